package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyJobID      = "job_id"
	KeyJobStatus  = "job_status"
	KeyAppID      = "app_id"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyName       = "name"
	KeyWorker     = "worker"
	KeyMethod     = "method"
	KeyRemoteAddr = "remote_addr"
	KeyStatus     = "status"
	KeyUserAgent  = "user_agent"
	KeyQueueLen   = "queue_length"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func JobID(id string) slog.Attr       { return slog.String(KeyJobID, id) }
func JobStatus(s string) slog.Attr    { return slog.String(KeyJobStatus, s) }
func AppID(id string) slog.Attr       { return slog.String(KeyAppID, id) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Name(n string) slog.Attr         { return slog.String(KeyName, n) }
func Worker(w string) slog.Attr       { return slog.String(KeyWorker, w) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func RemoteAddr(a string) slog.Attr   { return slog.String(KeyRemoteAddr, a) }
func Status(code int) slog.Attr       { return slog.Int(KeyStatus, code) }
func UserAgent(ua string) slog.Attr   { return slog.String(KeyUserAgent, ua) }
func QueueLength(n int) slog.Attr     { return slog.Int(KeyQueueLen, n) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
