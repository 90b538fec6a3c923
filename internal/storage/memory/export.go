package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bzfsd/bzfsd/internal/match"
)

// Export is the file written for each match.
type Export struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	WorldDigest string         `json:"worldDigest"`
	GameStyle   uint16         `json:"gameStyle"`
	Started     time.Time      `json:"started"`
	Ended       time.Time      `json:"ended"`
	Duration    float64        `json:"durationSeconds"`
	Players     []PlayerRecord `json:"players"`
	Events      []match.Event  `json:"events"`
}

func (b *Backend) buildExport() Export {
	info := *b.current
	players := make([]PlayerRecord, len(b.players))
	for i, p := range b.players {
		players[i] = *p
	}
	events := b.events
	if events == nil {
		events = []match.Event{}
	}
	return Export{
		ID:          info.ID.String(),
		Title:       info.Title,
		WorldDigest: info.WorldDigest,
		GameStyle:   info.GameStyle,
		Started:     info.Started,
		Ended:       info.Ended,
		Duration:    info.Ended.Sub(info.Started).Seconds(),
		Players:     players,
		Events:      events,
	}
}

// exportJSON writes the match data to a JSON file.
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	title := strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(b.current.Title)
	if title == "" {
		title = "match"
	}
	timestamp := b.current.Started.UTC().Format("20060102_150405")

	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("%s_%s.json.gz", title, timestamp)
	} else {
		filename = fmt.Sprintf("%s_%s.json", title, timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func writeJSON(path string, data Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}
