// Package detector wraps the external object-detection capability behind a
// small interface, so the job worker never depends on the transport used to
// reach it.
package detector

import (
	"context"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

// Detector runs object detection against a single JPEG-encoded frame.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte, width, height int) ([]types.Detection, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
