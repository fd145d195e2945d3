package bmsclient

import (
	"log/slog"
	"time"

	"github.com/aussiebroadwan/bmsclient/pkg/slogx"
	"github.com/aussiebroadwan/bmsclient/pkg/store"
)

// DefaultTimeout is the request timeout applied until SetDefaultTimeout is called.
const DefaultTimeout = 20000 * time.Millisecond

// ClientConfig is a snapshot of the client's configuration. Empty strings mean
// the value is absent.
type ClientConfig struct {
	BackendRoute   string
	BackendGUID    string
	RewriteDomain  string
	Subzone        string
	DefaultTimeout time.Duration
}

// AppContext describes the application embedding the client. It is handed to
// the authorization manager and the logger on Initialize.
type AppContext struct {
	Name    string
	Version string
	Env     string // e.g. "dev", "prod"

	LogLevel  string // debug, info, warn, error (default: info)
	LogFormat string // json, text (default: json)

	// Logger overrides the logger built from the fields above.
	Logger *slog.Logger

	// Store persists realm credentials. Nil keeps them in memory.
	Store store.CredentialStore
}

func (a AppContext) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}

	return slogx.New(slogx.Config{
		Service: a.Name,
		Version: a.Version,
		Env:     a.Env,
		Level:   a.LogLevel,
		Format:  a.LogFormat,
	})
}
