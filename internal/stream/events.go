package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stone17/my-sky-observer/internal/astro"
)

// SSE event names, emitted in the order documented on HandlePlan.
const (
	eventTotal            = "total"
	eventTwilightInfo     = "twilight_info"
	eventCatalogMetadata  = "catalog_metadata"
	eventObjectDetails    = "object_details"
	eventDownloadProgress = "download_progress"
	eventImageStatus      = "image_status"
	eventError            = "error"
	eventClose            = "close"
)

// metadataEntry is the lightweight per-object record sent once for the whole
// ranked list, so clients can render it before details arrive.
type metadataEntry struct {
	ID              string  `json:"id"`
	CommonName      string  `json:"common_name,omitempty"`
	Type            string  `json:"type,omitempty"`
	Constellation   string  `json:"constellation,omitempty"`
	RADeg           float64 `json:"ra"`
	DecDeg          float64 `json:"dec"`
	Magnitude       float64 `json:"mag"`
	MajorAxisArcmin float64 `json:"maj_ax"`
	Catalog         string  `json:"catalog"`
	MaxAltitudeDeg  float64 `json:"max_altitude"`
	HoursVisible    float64 `json:"hours_above_min"`
	Status          string  `json:"status"`
}

// fovRectangle tells the client how much of a downloaded image the sensor
// actually covers, as percentages of the padded download field.
type fovRectangle struct {
	WidthPercent  float64 `json:"width_percent"`
	HeightPercent float64 `json:"height_percent"`
}

// objectDetails is the full per-object payload for top candidates.
type objectDetails struct {
	Name          string                `json:"name"`
	RADeg         float64               `json:"ra"`
	DecDeg        float64               `json:"dec"`
	Catalog       string                `json:"catalog"`
	Size          string                `json:"size"`
	ImageURL      string                `json:"image_url"`
	AltitudeGraph []astro.AltitudePoint `json:"altitude_graph"`
	MoonGraph     []astro.AltitudePoint `json:"moon_graph"`
	FOVRectangle  fovRectangle          `json:"fov_rectangle"`
	HoursAboveMin float64               `json:"hours_above_min"`
	MajorAxis     float64               `json:"maj_ax"`
	Magnitude     float64               `json:"mag"`
	Fingerprint   string                `json:"fingerprint"`
	Status        string                `json:"status"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// client manages a single SSE connection's write operations.
type client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	logger  *slog.Logger
}

// send marshals v and writes one named SSE frame:
//
//	event: {name}\n
//	data: {json}\n\n
func (c *client) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return c.sendRaw(event, data)
}

func (c *client) sendRaw(event string, data []byte) error {
	// Extend the write deadline before each write so long download phases
	// do not trip the server's default timeout.
	if err := c.rc.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}

	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.flusher.Flush()
	return nil
}
