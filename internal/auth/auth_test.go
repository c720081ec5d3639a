package auth

import (
	"os"
	"testing"
)

func TestVerifyAppAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		envKeys    string
		disabled   string
		expected   bool
		setupEnv   func()
		cleanupEnv func()
	}{
		{
			name:     "valid key",
			apiKey:   "test-key",
			envKeys:  "test-key",
			expected: true,
			setupEnv: func() {
				os.Setenv("VALID_API_KEYS", "test-key")
				os.Unsetenv("DISABLE_AUTH")
			},
			cleanupEnv: func() {
				os.Unsetenv("VALID_API_KEYS")
			},
		},
		{
			name:     "invalid key",
			apiKey:   "invalid-key",
			envKeys:  "test-key",
			expected: false,
			setupEnv: func() {
				os.Setenv("VALID_API_KEYS", "test-key")
				os.Unsetenv("DISABLE_AUTH")
			},
			cleanupEnv: func() {
				os.Unsetenv("VALID_API_KEYS")
			},
		},
		{
			name:     "disabled auth",
			apiKey:   "any-key",
			disabled: "true",
			expected: true,
			setupEnv: func() {
				os.Setenv("DISABLE_AUTH", "true")
				os.Unsetenv("VALID_API_KEYS")
			},
			cleanupEnv: func() {
				os.Unsetenv("DISABLE_AUTH")
			},
		},
		{
			name:     "multiple valid keys",
			apiKey:   "key2",
			envKeys:  "key1,key2,key3",
			expected: true,
			setupEnv: func() {
				os.Setenv("VALID_API_KEYS", "key1,key2,key3")
				os.Unsetenv("DISABLE_AUTH")
			},
			cleanupEnv: func() {
				os.Unsetenv("VALID_API_KEYS")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setupEnv()
			defer tt.cleanupEnv()

			if got := VerifyAppAPIKey(tt.apiKey); got != tt.expected {
				t.Errorf("VerifyAppAPIKey(%q) = %v, want %v", tt.apiKey, got, tt.expected)
			}
		})
	}
}

func TestMintAndVerifyCallerToken(t *testing.T) {
	token, err := MintCallerToken("caller-1", "secret")
	if err != nil {
		t.Fatalf("MintCallerToken() error = %v", err)
	}

	callerID, err := VerifyCallerToken(token, "secret")
	if err != nil {
		t.Fatalf("VerifyCallerToken() error = %v", err)
	}
	if callerID != "caller-1" {
		t.Errorf("VerifyCallerToken() caller id = %q, want caller-1", callerID)
	}
}

func TestVerifyCallerToken_WrongSecret(t *testing.T) {
	token, err := MintCallerToken("caller-1", "secret")
	if err != nil {
		t.Fatalf("MintCallerToken() error = %v", err)
	}

	if _, err := VerifyCallerToken(token, "wrong-secret"); err == nil {
		t.Error("VerifyCallerToken() should fail with wrong secret")
	}
}

func TestVerifyCallerToken_Malformed(t *testing.T) {
	if _, err := VerifyCallerToken("not-a-jwt", "secret"); err == nil {
		t.Error("VerifyCallerToken() should fail on malformed token")
	}
}
