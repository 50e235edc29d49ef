package automation

import "context"

// Session is an exclusive automation session bound to one device.
type Session interface {
	ID() string
	LockScreen(ctx context.Context) error
	PlaceCall(ctx context.Context, phoneNumber string) error
	CancelCall(ctx context.Context, phoneNumber string) error
	CaptureScreen(ctx context.Context) ([]byte, error)
	// ActiveCalls returns the emulator's current call list, empty when no call is up.
	ActiveCalls(ctx context.Context) (string, error)
	InstallApp(ctx context.Context, appPackage string) error
	ActivateApp(ctx context.Context, appPackage string) error
	UninstallApp(ctx context.Context, appPackage string) error
	Close(ctx context.Context) error
}

// SessionFactory opens sessions for pool slots.
type SessionFactory interface {
	NewSession(ctx context.Context, slot int) (Session, error)
}

// ImageMatcher scores how well a reference fragment occurs in a screenshot.
// A missing occurrence is a zero score, not an error.
type ImageMatcher interface {
	Match(ctx context.Context, screenshot []byte, reference []byte) (float64, error)
}

// ArtifactSink stores diagnostic captures taken after a classification.
type ArtifactSink interface {
	SaveScreenshot(ctx context.Context, appPackage string, phoneNumber string, png []byte) error
}
