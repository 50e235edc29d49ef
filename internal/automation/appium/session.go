package appium

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kursadbilgin/callscreen/internal/automation"
)

const (
	gsmActionCall   = "call"
	gsmActionCancel = "cancel"

	emulatorConsoleScript = "mobile: execEmuConsoleCommand"
	matchTemplateMode     = "matchTemplate"
)

var (
	_ automation.Session      = (*Session)(nil)
	_ automation.ImageMatcher = (*Session)(nil)
)

// Session drives one device through an Appium server session.
type Session struct {
	client *client
	id     string
	apkDir string
}

type gsmCallRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Action      string `json:"action"`
}

type executeRequest struct {
	Script string `json:"script"`
	Args   []any  `json:"args"`
}

type appRequest struct {
	AppID string `json:"appId"`
}

type installRequest struct {
	AppPath string         `json:"appPath"`
	Options map[string]any `json:"options,omitempty"`
}

type compareRequest struct {
	Mode        string         `json:"mode"`
	FirstImage  string         `json:"firstImage"`
	SecondImage string         `json:"secondImage"`
	Options     map[string]any `json:"options"`
}

type compareResult struct {
	Score float64 `json:"score"`
}

func (s *Session) ID() string { return s.id }

func (s *Session) path(suffix string) string {
	return "/session/" + s.id + suffix
}

func (s *Session) LockScreen(ctx context.Context) error {
	_, err := call[any](ctx, s.client, "lock", http.MethodPost, s.path("/appium/device/lock"), map[string]any{})
	return err
}

func (s *Session) PlaceCall(ctx context.Context, phoneNumber string) error {
	return s.gsmCall(ctx, phoneNumber, gsmActionCall)
}

func (s *Session) CancelCall(ctx context.Context, phoneNumber string) error {
	return s.gsmCall(ctx, phoneNumber, gsmActionCancel)
}

func (s *Session) gsmCall(ctx context.Context, phoneNumber string, action string) error {
	_, err := call[any](ctx, s.client, "gsm_call "+action, http.MethodPost, s.path("/appium/device/gsm_call"), gsmCallRequest{
		PhoneNumber: phoneNumber,
		Action:      action,
	})
	return err
}

func (s *Session) CaptureScreen(ctx context.Context) ([]byte, error) {
	encoded, err := call[string](ctx, s.client, "screenshot", http.MethodGet, s.path("/screenshot"), nil)
	if err != nil {
		return nil, err
	}

	png, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &CommandError{Command: "screenshot", Message: "invalid base64 payload", Cause: err}
	}
	return png, nil
}

func (s *Session) ActiveCalls(ctx context.Context) (string, error) {
	out, err := call[string](ctx, s.client, "gsm list", http.MethodPost, s.path("/execute/sync"), executeRequest{
		Script: emulatorConsoleScript,
		Args:   []any{map[string]string{"command": "gsm list"}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (s *Session) InstallApp(ctx context.Context, appPackage string) error {
	_, err := call[any](ctx, s.client, "install_app", http.MethodPost, s.path("/appium/device/install_app"), installRequest{
		AppPath: filepath.Join(s.apkDir, appPackage+".apk"),
		Options: map[string]any{"grantPermissions": true},
	})
	return err
}

func (s *Session) ActivateApp(ctx context.Context, appPackage string) error {
	_, err := call[any](ctx, s.client, "activate_app", http.MethodPost, s.path("/appium/device/activate_app"), appRequest{AppID: appPackage})
	return err
}

func (s *Session) UninstallApp(ctx context.Context, appPackage string) error {
	_, err := call[any](ctx, s.client, "remove_app", http.MethodPost, s.path("/appium/device/remove_app"), appRequest{AppID: appPackage})
	return err
}

// Match runs template matching on the Appium server. A missing occurrence scores 0.
func (s *Session) Match(ctx context.Context, screenshot []byte, reference []byte) (float64, error) {
	result, err := call[compareResult](ctx, s.client, "compare_images", http.MethodPost, s.path("/appium/compare_images"), compareRequest{
		Mode:        matchTemplateMode,
		FirstImage:  base64.StdEncoding.EncodeToString(screenshot),
		SecondImage: base64.StdEncoding.EncodeToString(reference),
		Options:     map[string]any{},
	})
	if err != nil {
		if isNoOccurrence(err) {
			return 0, nil
		}
		return 0, err
	}
	return result.Score, nil
}

func (s *Session) Close(ctx context.Context) error {
	_, err := call[any](ctx, s.client, "delete session", http.MethodDelete, s.path(""), nil)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", s.id, err)
	}
	return nil
}

func isNoOccurrence(err error) bool {
	cmdErr, ok := err.(*CommandError)
	if !ok || cmdErr.StatusCode == 0 {
		return false
	}
	return strings.Contains(strings.ToLower(cmdErr.Message), "occurrence")
}
