package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"
)

// TestStdinFdCrossplatform verifies that os.Stdin.Fd() can be cast to int
// for golang.org/x/term on every platform.
func TestStdinFdCrossplatform(t *testing.T) {
	stdinFd := int(os.Stdin.Fd())
	assert.GreaterOrEqual(t, stdinFd, 0, "stdin file descriptor should be non-negative")

	isTerminal := term.IsTerminal(stdinFd)
	t.Logf("stdin fd=%d, isTerminal=%v", stdinFd, isTerminal)
}

// tokenServer accepts requests carrying the given bearer token
func tokenServer(t *testing.T, valid string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/verify-token" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Invalid token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"valid":true,"user_id":1}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// captureStdout runs fn and returns what it printed
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// withStdin replaces stdin with a pipe carrying input
func withStdin(t *testing.T, input string) {
	t.Helper()
	origStdin := os.Stdin
	t.Cleanup(func() { os.Stdin = origStdin })

	r, w, err := os.Pipe()
	require.NoError(t, err)
	go func() {
		defer w.Close()
		io.WriteString(w, input)
	}()
	os.Stdin = r
}

func TestAuthLoginWithFlags(t *testing.T) {
	isolate(t)
	srv := tokenServer(t, "valid-token")

	t.Run("successful login with valid token", func(t *testing.T) {
		require.NoError(t, runAuthLogin(srv.URL, "valid-token"))
		assert.Equal(t, "valid-token", getCredential(srv.URL))
	})

	t.Run("failed login with invalid token", func(t *testing.T) {
		err := runAuthLogin(srv.URL, "wrong-token")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid token")
	})

	t.Run("empty token rejected", func(t *testing.T) {
		withStdin(t, "")
		err := runAuthLogin(srv.URL, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "token cannot be empty")
	})
}

func TestAuthLoginUncheckedService(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	output := captureStdout(t, func() {
		require.NoError(t, runAuthLogin(srv.URL, "some-token"))
	})
	assert.Contains(t, output, "does not check tokens")
	assert.Equal(t, "some-token", getCredential(srv.URL))
}

func TestAuthLoginFromStdin(t *testing.T) {
	isolate(t)
	srv := tokenServer(t, "piped-token")

	t.Run("read token from piped stdin", func(t *testing.T) {
		withStdin(t, "piped-token\n")
		require.NoError(t, runAuthLogin(srv.URL, ""))
		assert.Equal(t, "piped-token", getCredential(srv.URL))
	})

	t.Run("surrounding whitespace is trimmed", func(t *testing.T) {
		withStdin(t, "  piped-token  \n")
		require.NoError(t, runAuthLogin(srv.URL, ""))
		assert.Equal(t, "piped-token", getCredential(srv.URL))
	})
}

func TestAuthLogout(t *testing.T) {
	isolate(t)

	require.NoError(t, saveCredential("http://svc1:8000", "token1"))
	require.NoError(t, saveCredential("http://svc2:8000", "token2"))

	t.Run("logout from specific service", func(t *testing.T) {
		require.NoError(t, runAuthLogout("http://svc1:8000", false))
		assert.Equal(t, "", getCredential("http://svc1:8000"))
		assert.Equal(t, "token2", getCredential("http://svc2:8000"))
	})

	t.Run("logout from unknown service", func(t *testing.T) {
		require.NoError(t, runAuthLogout("http://nonexistent:8000", false))
	})

	t.Run("logout all", func(t *testing.T) {
		require.NoError(t, saveCredential("http://svc1:8000", "token1"))
		require.NoError(t, runAuthLogout("", true))

		_, err := loadCredentials()
		assert.True(t, os.IsNotExist(err))
	})
}

func TestAuthStatus(t *testing.T) {
	isolate(t)

	t.Run("no credentials", func(t *testing.T) {
		output := captureStdout(t, func() {
			require.NoError(t, runAuthStatus())
		})
		assert.Contains(t, output, "No saved service tokens")
	})

	t.Run("with credentials", func(t *testing.T) {
		require.NoError(t, saveCredential("http://test-svc:8000", "test-token-12345678901234"))

		output := captureStdout(t, func() {
			require.NoError(t, runAuthStatus())
		})
		assert.Contains(t, output, "http://test-svc:8000")
		assert.Contains(t, output, "test-tok...")
		assert.NotContains(t, output, "test-token-12345678901234")
	})
}

func TestValidateToken(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		srv := tokenServer(t, "good")
		valid, checked, err := validateToken(srv.URL, "good")
		require.NoError(t, err)
		assert.True(t, valid)
		assert.True(t, checked)
	})

	t.Run("invalid token", func(t *testing.T) {
		srv := tokenServer(t, "good")
		valid, checked, err := validateToken(srv.URL, "bad")
		require.NoError(t, err)
		assert.False(t, valid)
		assert.True(t, checked)
	})

	t.Run("service without token endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/" {
				w.Write([]byte(`{"status":"ok"}`))
				return
			}
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Not Found"}`))
		}))
		defer srv.Close()

		valid, checked, err := validateToken(srv.URL, "any")
		require.NoError(t, err)
		assert.True(t, valid)
		assert.False(t, checked)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, _, err := validateToken(srv.URL, "any")
		assert.Error(t, err)
	})

	t.Run("connection error", func(t *testing.T) {
		_, _, err := validateToken("http://localhost:99999", "any")
		assert.Error(t, err)
	})
}

func TestCredentialPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	home := isolate(t)

	require.NoError(t, saveCredential("http://test:8000", "test-token"))

	dirInfo, err := os.Stat(filepath.Join(home, ".pngprotect"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())

	fileInfo, err := os.Stat(filepath.Join(home, ".pngprotect", "credentials"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fileInfo.Mode().Perm())
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", maskToken("short"))
	assert.Equal(t, "abcdefgh...wxyz", maskToken("abcdefghijklmnopqrstuvwxyz"))
}

func TestCommandStructure(t *testing.T) {
	root := newRootCmd("test")

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"protect", "verify", "register", "strip", "detect", "harden", "owner", "status", "serve", "cache", "auth", "config"} {
		assert.Contains(t, names, want)
	}

	auth := createAuthCmd()
	var sub []string
	for _, c := range auth.Commands() {
		sub = append(sub, c.Name())
	}
	assert.ElementsMatch(t, []string{"login", "logout", "status"}, sub)

	login := createAuthLoginCmd()
	assert.NotNil(t, login.Flags().Lookup("service"))
	assert.NotNil(t, login.Flags().Lookup("token"))
}
