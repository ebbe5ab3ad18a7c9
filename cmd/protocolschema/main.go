package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"beat-hard/server/internal/battle"
	"beat-hard/server/internal/net/proto"
)

// protocol gathers every document that crosses the wire so one schema covers
// sensors, the control surface and the displays.
type protocol struct {
	Envelope     proto.ViewMessage         `json:"envelope"`
	Hit          proto.HitEventInput       `json:"hit"`
	Stats        proto.StatsPayload        `json:"stats"`
	MaxStats     proto.MaxStatsPayload     `json:"maxStats"`
	RoundAdvance proto.RoundAdvancePayload `json:"roundAdvance"`
	Cover        battle.CoverPayload       `json:"cover"`
	Setup        battle.Setup              `json:"setup"`
}

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	if err := writeSchema(outPath, buildSchema()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(protocol))
	schema.Title = "Beat Hard Broadcast Protocol"
	schema.Description = "Sensor strikes, battle setup and the view envelopes pushed to displays"
	return schema
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	return os.Rename(tmpPath, outPath)
}
