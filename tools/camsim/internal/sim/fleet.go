// Package sim generates and drives a simulated fleet of store camera
// agents against the ingest gateway.
package sim

import (
	"fmt"
	"os"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"gopkg.in/yaml.v3"
)

// Camera is one simulated camera inside a store.
type Camera struct {
	ExternalID string `yaml:"external_id"`
	Name       string `yaml:"name"`
	// FlapChance is the per-heartbeat probability (0..1) that this
	// camera reports alive=false.
	FlapChance float64 `yaml:"flap_chance"`
}

// Store is one simulated store agent.
type Store struct {
	ExternalID string   `yaml:"external_id"`
	OrgID      string   `yaml:"org_id"`
	Name       string   `yaml:"name"`
	Cameras    []Camera `yaml:"cameras"`
}

// Fleet is the full simulated deployment, persisted as YAML so runs
// are reproducible.
type Fleet struct {
	Stores []Store `yaml:"stores"`
}

var cameraSpots = []string{
	"entrance", "exit", "checkout", "backroom", "dock",
	"aisle-1", "aisle-2", "parking", "office", "freezer",
}

// GenerateFleet builds a random fleet of storeCount stores with
// camerasPerStore cameras each.
func GenerateFleet(orgID string, storeCount, camerasPerStore int) *Fleet {
	fleet := &Fleet{Stores: make([]Store, 0, storeCount)}

	for i := 0; i < storeCount; i++ {
		store := Store{
			ExternalID: fmt.Sprintf("store-%03d", i+1),
			OrgID:      orgID,
			Name:       fmt.Sprintf("%s %s", gofakeit.City(), gofakeit.RandomString([]string{"Market", "Express", "Superstore", "Corner"})),
			Cameras:    make([]Camera, 0, camerasPerStore),
		}
		for j := 0; j < camerasPerStore; j++ {
			spot := cameraSpots[j%len(cameraSpots)]
			store.Cameras = append(store.Cameras, Camera{
				ExternalID: "cam-" + spot,
				Name:       spotName(spot),
				FlapChance: gofakeit.Float64Range(0, 0.05),
			})
		}
		fleet.Stores = append(fleet.Stores, store)
	}

	return fleet
}

// Save writes the fleet to path as YAML.
func (f *Fleet) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal fleet: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write fleet file: %w", err)
	}
	return nil
}

// LoadFleet reads a fleet file written by Save.
func LoadFleet(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}
	var fleet Fleet
	if err := yaml.Unmarshal(data, &fleet); err != nil {
		return nil, fmt.Errorf("failed to parse fleet file: %w", err)
	}
	if len(fleet.Stores) == 0 {
		return nil, fmt.Errorf("fleet file %s contains no stores", path)
	}
	return &fleet, nil
}

func spotName(spot string) string {
	words := strings.Split(strings.ReplaceAll(spot, "-", " "), " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
