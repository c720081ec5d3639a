package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeEntries(t *testing.T, path string, entries map[string]Entry) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("creating dir for %s: %v", path, err)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshaling entries: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestReadOAuthToken_PrefersAppFileOverForeignFile(t *testing.T) {
	s := testStore(t)
	writeEntries(t, s.appPath, map[string]Entry{
		AppID: {OAuthToken: "app-token", User: "octocat"},
	})
	writeEntries(t, s.foreignPath, map[string]Entry{
		Host + ":vscode": {OAuthToken: "foreign-token", User: "someone-else"},
	})

	token, ok := s.ReadOAuthToken()
	if !ok {
		t.Fatal("expected a token to be found")
	}
	if token != "app-token" {
		t.Errorf("token = %q, want app-token (app file should take precedence)", token)
	}
}

func TestReadOAuthToken_FallsBackToForeignFilePrefixMatch(t *testing.T) {
	s := testStore(t)
	writeEntries(t, s.foreignPath, map[string]Entry{
		Host + ":vscode": {OAuthToken: "foreign-token", User: "someone-else"},
	})

	token, ok := s.ReadOAuthToken()
	if !ok {
		t.Fatal("expected a token to be found via the foreign file's prefix-matched key")
	}
	if token != "foreign-token" {
		t.Errorf("token = %q, want foreign-token", token)
	}
}

func TestReadOAuthToken_ForeignFileWithUnrelatedHostIsIgnored(t *testing.T) {
	s := testStore(t)
	writeEntries(t, s.foreignPath, map[string]Entry{
		"gitlab.com:vscode": {OAuthToken: "unrelated-token", User: "someone-else"},
	})

	if _, ok := s.ReadOAuthToken(); ok {
		t.Fatal("expected no token: foreign file has no github.com-prefixed key")
	}
}

func TestReadOAuthToken_NoFilesReturnsNotFound(t *testing.T) {
	s := testStore(t)

	if _, ok := s.ReadOAuthToken(); ok {
		t.Fatal("expected not found when neither credentials file exists")
	}
}

func TestSaveOAuthToken_PreservesUnrelatedKeys(t *testing.T) {
	s := testStore(t)
	writeEntries(t, s.appPath, map[string]Entry{
		"some-other-app": {OAuthToken: "other-token", User: "someone-else"},
	})

	if err := s.SaveOAuthToken("new-token", "octocat"); err != nil {
		t.Fatalf("SaveOAuthToken() error = %v", err)
	}

	data, err := os.ReadFile(s.appPath)
	if err != nil {
		t.Fatalf("reading app file: %v", err)
	}
	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshaling app file: %v", err)
	}

	other, ok := entries["some-other-app"]
	if !ok {
		t.Fatal("expected unrelated key \"some-other-app\" to survive the save")
	}
	if other.OAuthToken != "other-token" {
		t.Errorf("unrelated entry token = %q, want other-token (should be untouched)", other.OAuthToken)
	}

	mine, ok := entries[AppID]
	if !ok {
		t.Fatal("expected this app's own entry to be written")
	}
	if mine.OAuthToken != "new-token" || mine.User != "octocat" {
		t.Errorf("own entry = %+v, want token=new-token user=octocat", mine)
	}
}

func TestSaveOAuthToken_CreatesParentDirectory(t *testing.T) {
	home := t.TempDir()
	s := &Store{
		appPath:     filepath.Join(home, "nested", "config", "app.json"),
		foreignPath: filepath.Join(home, "nested", "config", "apps.json"),
	}

	if err := s.SaveOAuthToken("new-token", "octocat"); err != nil {
		t.Fatalf("SaveOAuthToken() error = %v", err)
	}

	token, ok := s.ReadOAuthToken()
	if !ok || token != "new-token" {
		t.Errorf("expected new-token to round-trip, got %q (found=%v)", token, ok)
	}
}
