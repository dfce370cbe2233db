package sim

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFleet(t *testing.T) {
	fleet := GenerateFleet("org-1", 5, 3)

	require.Len(t, fleet.Stores, 5)
	for i, store := range fleet.Stores {
		assert.Equal(t, "org-1", store.OrgID)
		assert.NotEmpty(t, store.Name)
		require.Len(t, store.Cameras, 3)

		// External ids are stable and index-derived so repeated runs
		// hit the same gateway records.
		assert.Equal(t, fmt.Sprintf("store-%03d", i+1), store.ExternalID)
		for _, cam := range store.Cameras {
			assert.Contains(t, cam.ExternalID, "cam-")
			assert.GreaterOrEqual(t, cam.FlapChance, 0.0)
			assert.LessOrEqual(t, cam.FlapChance, 0.05)
		}
	}
}

func TestFleetSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")

	fleet := GenerateFleet("org-2", 2, 4)
	require.NoError(t, fleet.Save(path))

	loaded, err := LoadFleet(path)
	require.NoError(t, err)
	assert.Equal(t, fleet, loaded)
}

func TestLoadFleetRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, (&Fleet{}).Save(path))

	_, err := LoadFleet(path)
	assert.Error(t, err)
}
