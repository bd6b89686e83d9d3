package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const checkTimeout = 10 * time.Second

// CheckEndpoint verifies that a portal answers a plain GET of its base URL.
func CheckEndpoint(ctx context.Context, name, baseURL string) Result {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	status, err := get(ctx, base+"/", nil)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	if status >= http.StatusInternalServerError {
		return Result{Name: name, Detail: fmt.Sprintf("%s (server error %d)", base, status)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", base)}
}

// CheckFourDNCredentials asks the portal who the access key belongs to.
// Missing credentials pass: public files still download.
func CheckFourDNCredentials(ctx context.Context, baseURL, accessID, secretKey string) Result {
	const name = "4DN credentials"

	if accessID == "" || secretKey == "" {
		return Result{Name: name, Passed: true, Detail: "not configured (public files only)"}
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	status, err := get(ctx, base+"/me", func(req *http.Request) {
		req.SetBasicAuth(accessID, secretKey)
	})
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid access key)"}
	case status >= http.StatusBadRequest:
		return Result{Name: name, Detail: fmt.Sprintf("auth check failed (%d)", status)}
	default:
		return Result{Name: name, Passed: true, Detail: "access key accepted"}
	}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func get(ctx context.Context, url string, decorate func(*http.Request)) (int, error) {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if decorate != nil {
		decorate(req)
	}
	resp, err := (&http.Client{Timeout: checkTimeout}).Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (unreachable)"
	}
	return err.Error()
}
