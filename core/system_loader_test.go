package core

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/signalsfoundry/orrery/kb"
	"github.com/signalsfoundry/orrery/model"
	"github.com/signalsfoundry/orrery/timectrl"
)

func TestLoadSystem_PopulatesKB(t *testing.T) {
	jsonData := `
{
  "params": { "mu": 20, "scale": { "base_orbit": 0.001 } },
  "bodies": [
    { "id": "moon", "parent": "earth", "size": 3.4,
      "elements": { "semi_major_axis": 384.4, "eccentricity": 0.05, "inclination_deg": 90, "sidereal_period": 27.3 } },
    { "id": "sun", "motion": "static", "position": { "x": 1, "y": 2, "z": 3 } },
    { "id": "earth", "name": "Earth", "parent": "sun", "day_length": 1,
      "elements": { "semi_major_axis": 149598, "eccentricity": 0.0167, "ascending_node_deg": 180, "sidereal_period": 365.256 } }
  ],
  "belts": [
    { "name": "main", "population": 10, "semi_major_min": 100, "semi_major_max": 200, "tight": true }
  ],
  "extra": "ignored"
}
`
	store := kb.NewKnowledgeBase()
	sys, err := LoadSystem(context.Background(), store, strings.NewReader(jsonData))
	if err != nil {
		t.Fatalf("LoadSystem returned error: %v", err)
	}

	if len(sys.BodyIDs) != 3 || store.Len() != 3 {
		t.Fatalf("loaded %d bodies (store %d), want 3", len(sys.BodyIDs), store.Len())
	}
	if sys.Params.Mu != 20 {
		t.Fatalf("Mu = %v, want 20", sys.Params.Mu)
	}
	if sys.Params.Scale.BaseOrbit != 0.001 || sys.Params.Scale.BaseTime != 0.5 {
		t.Fatalf("scale limits = %+v", sys.Params.Scale)
	}

	sun := store.GetBody("sun")
	if sun == nil || sun.MotionSource != model.MotionSourceStatic || sun.Position != (model.Position{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("sun = %+v", sun)
	}
	if sun.Name != "sun" {
		t.Fatalf("default name = %q, want id", sun.Name)
	}

	moon := store.GetBody("moon")
	if moon == nil || moon.ParentID != "earth" {
		t.Fatalf("moon = %+v", moon)
	}
	if math.Abs(moon.Elements.Inclination-math.Pi/2) > 1e-12 {
		t.Fatalf("moon inclination = %v rad, want π/2", moon.Elements.Inclination)
	}
	if earth := store.GetBody("earth"); math.Abs(earth.Elements.AscendingNode-math.Pi) > 1e-12 {
		t.Fatalf("earth node = %v rad, want π", earth.Elements.AscendingNode)
	}

	if len(sys.Belts) != 1 {
		t.Fatalf("got %d belts, want 1", len(sys.Belts))
	}
	belt := sys.Belts[0]
	if belt.MinCosine != TightMinCosine || belt.VertexCount != 3 || belt.MaxAttempts != DefaultShapeAttempts {
		t.Fatalf("belt params = %+v", belt)
	}
}

func TestLoadSystem_CalibratesMu(t *testing.T) {
	jsonData := `
{
  "params": { "calibrate_mu_from": "earth" },
  "bodies": [
    { "id": "earth", "elements": { "semi_major_axis": 149598, "sidereal_period": 365.256 } }
  ]
}
`
	sys, err := LoadSystem(context.Background(), kb.NewKnowledgeBase(), strings.NewReader(jsonData))
	if err != nil {
		t.Fatalf("LoadSystem: %v", err)
	}
	if got := ThirdLawPeriod(149598, sys.Params.Scale.BaseOrbit, sys.Params.Mu); math.Abs(got-365.256) > 1e-9 {
		t.Fatalf("calibrated period = %v, want 365.256", got)
	}
}

func TestLoadSystem_Errors(t *testing.T) {
	cases := []struct {
		name string
		json string
		want error
	}{
		{"bad eccentricity", `{"bodies":[{"id":"x","elements":{"semi_major_axis":1,"eccentricity":1.2,"sidereal_period":1}}]}`, model.ErrInvalidEccentricity},
		{"zero period", `{"bodies":[{"id":"x","elements":{"semi_major_axis":1}}]}`, model.ErrInvalidPeriod},
		{"missing elements", `{"bodies":[{"id":"x"}]}`, kb.ErrBodyInvalid},
		{"unknown motion", `{"bodies":[{"id":"x","motion":"warp"}]}`, kb.ErrBodyInvalid},
		{"duplicate", `{"bodies":[{"id":"x","motion":"static"},{"id":"x","motion":"static"}]}`, kb.ErrBodyExists},
		{"unknown parent", `{"bodies":[{"id":"x","parent":"y","motion":"static"}]}`, kb.ErrUnknownParent},
		{"cycle", `{"bodies":[{"id":"a","parent":"b","motion":"static"},{"id":"b","parent":"a","motion":"static"}]}`, kb.ErrCycle},
		{"calibrate missing", `{"params":{"calibrate_mu_from":"z"},"bodies":[]}`, kb.ErrBodyNotFound},
		{"bad limits", `{"params":{"scale":{"min_time":0}}}`, timectrl.ErrInvalidLimits},
		{"bad belt", `{"belts":[{"name":"b","population":0}]}`, ErrInvalidBeltParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadSystem(context.Background(), kb.NewKnowledgeBase(), strings.NewReader(tc.json))
			if !errors.Is(err, tc.want) {
				t.Fatalf("LoadSystem error = %v, want %v", err, tc.want)
			}
		})
	}

	if _, err := LoadSystem(context.Background(), kb.NewKnowledgeBase(), strings.NewReader("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestLoadSystem_ReferenceConfig(t *testing.T) {
	f, err := os.Open("../configs/solar_system.json")
	if err != nil {
		t.Fatalf("open reference config: %v", err)
	}
	defer f.Close()

	store := kb.NewKnowledgeBase()
	sys, err := LoadSystem(context.Background(), store, f)
	if err != nil {
		t.Fatalf("LoadSystem: %v", err)
	}
	if len(sys.BodyIDs) != 10 || len(sys.Belts) != 1 {
		t.Fatalf("loaded %d bodies and %d belts, want 10 and 1", len(sys.BodyIDs), len(sys.Belts))
	}

	scale, err := timectrl.NewScaleModel(sys.Params.Scale)
	if err != nil {
		t.Fatalf("NewScaleModel: %v", err)
	}
	se, err := NewSimulationEngine(store, scale, WithParams(sys.Params))
	if err != nil {
		t.Fatalf("NewSimulationEngine: %v", err)
	}
	defer se.Close()

	order := se.Order()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos["earth"] >= pos["moon"] {
		t.Fatalf("earth does not precede moon in %v", order)
	}

	for i := 0; i < 60; i++ {
		se.Tick(1.0 / 60)
	}
	earth, _ := se.CurrentPosition("earth")
	if r := earth.Norm(); r < 149598*1e-4*0.95 || r > 149598*1e-4*1.05 {
		t.Fatalf("|earth| = %v, want about %v", r, 149598*1e-4)
	}
}
