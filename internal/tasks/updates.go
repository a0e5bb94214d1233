package tasks

import (
	"fmt"

	"github.com/desertthunder/qmx/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or server layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase, 0 when open-ended
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	AcquireQR Phase = iota
	SaveQR
	AwaitLogin
	PersistCredential
	CheckCredential
	RefreshCredential
)

func (p Phase) String() string {
	switch p {
	case AcquireQR:
		return "acquire_qr"
	case SaveQR:
		return "save_qr"
	case AwaitLogin:
		return "await_login"
	case PersistCredential:
		return "persist_credential"
	case CheckCredential:
		return "check_credential"
	case RefreshCredential:
		return "refresh_credential"
	default:
		return ""
	}
}

func acquiredUpdate(qr *models.QRArtifact) ProgressUpdate {
	return ProgressUpdate{
		Phase:   AcquireQR,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Obtained %s QR code", qr.Type),
		Data:    qr,
	}
}

func savedUpdate(path string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SaveQR,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("QR code written to %s", path),
		Data:    path,
	}
}

var eventMessages = map[models.LoginEvent]string{
	models.AwaitingScan: "Waiting for the QR code to be scanned...",
	models.Scanned:      "Scanned, waiting for confirmation on the phone...",
	models.Confirmed:    "Login confirmed",
	models.Refused:      "Login refused on the phone",
	models.Expired:      "QR code expired",
	models.Unknown:      "Login ended with an unknown status",
}

func eventUpdate(step int, ev models.LoginEvent) ProgressUpdate {
	return ProgressUpdate{
		Phase:   AwaitLogin,
		Step:    step,
		Message: eventMessages[ev],
		Data:    ev,
	}
}

func persistedUpdate(musicID int64) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PersistCredential,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Saved credential for %d", musicID),
		Data:    musicID,
	}
}

func checkingUpdate(musicID int64) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CheckCredential,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Checking credential for %d...", musicID),
		Data:    musicID,
	}
}

func refreshingUpdate(musicID int64) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RefreshCredential,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Credential for %d expired, refreshing...", musicID),
		Data:    musicID,
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}
