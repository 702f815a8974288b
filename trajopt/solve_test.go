//go:build !no_cgo

package trajopt

import (
	"context"
	"testing"

	"go.viam.com/test"

	"go.apexline.dev/apexline/logging"
	"go.apexline.dev/apexline/track"
	"go.apexline.dev/apexline/vehicle/fake"
)

func TestSolveConstantSpeedLap(t *testing.T) {
	trk := track.NewFlat(100, 5)
	m, err := NewUniformMesh(trk, 8, true)
	test.That(t, err, test.ShouldBeNil)
	p, err := NewProblem(fake.NewConstantSpeed(trk, 20), m, nil, Options{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	res, err := p.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.LapTime, test.ShouldAlmostEqual, 100.0/20.0, 1e-6)
	test.That(t, len(res.States), test.ShouldEqual, m.Points())
	test.That(t, len(res.Poses), test.ShouldEqual, m.Points())
	test.That(t, res.ControlRates, test.ShouldBeNil)
	// elapsed time is recovered cumulatively at constant dt/ds
	test.That(t, res.States[4][0], test.ShouldAlmostEqual, m.At(4)/20, 1e-6)
}

func TestSolveKartOpenMatchesTrapezoidDecay(t *testing.T) {
	// With the steering held fixed, the defects have a unique solution: the
	// implicit trapezoid integration of dn/ds = u - 0.1*n from the pinned
	// initial sample.
	trk := track.NewFlat(100, 5)
	m, err := NewUniformMesh(trk, 10, false)
	test.That(t, err, test.ShouldBeNil)
	p, err := NewProblem(fake.NewKart(trk, 20), m,
		[]ControlChannel{FixedControl([]float64{0.05})},
		Options{InitialState: []float64{0, 2}, InitialAlgebraic: []float64{0.05}},
		logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	res, err := p.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.LapTime, test.ShouldAlmostEqual, 5.0, 1e-6)

	ds := 10.0
	n := 2.0
	for i := 1; i < m.Points(); i++ {
		n = (n + 0.5*ds*(0.05-0.1*n+0.05)) / (1 + 0.05*ds)
		test.That(t, res.States[i][1], test.ShouldAlmostEqual, n, 1e-4)
		test.That(t, res.Algebraic[i][0], test.ShouldAlmostEqual, 0.05, 1e-4)
		test.That(t, res.Controls[i][0], test.ShouldEqual, 0.05)
	}
}

func TestSolveKartClosedPeriodicSteering(t *testing.T) {
	// On a closed mesh with fixed steering u the wrap defect forces the
	// periodic fixed point n = u/0.1 at every mesh point.
	trk := track.NewFlat(100, 5)
	m, err := NewUniformMesh(trk, 10, true)
	test.That(t, err, test.ShouldBeNil)
	p, err := NewProblem(fake.NewKart(trk, 20), m,
		[]ControlChannel{FixedControl([]float64{0.05})},
		Options{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	res, err := p.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < m.Points(); i++ {
		test.That(t, res.States[i][1], test.ShouldAlmostEqual, 0.5, 1e-4)
	}
	test.That(t, res.LapTime, test.ShouldAlmostEqual, 5.0, 1e-6)
}

func TestSolveKartRateFormulation(t *testing.T) {
	p := newKartProblem(t, true, Options{Rate: true})
	res, err := p.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.LapTime, test.ShouldAlmostEqual, 5.0, 1e-6)
	test.That(t, res.ControlRates, test.ShouldNotBeNil)
	test.That(t, len(res.ControlRates), test.ShouldEqual, p.mesh.Points())
}

func TestSolveWarmStart(t *testing.T) {
	trk := track.NewFlat(100, 5)
	cache := NewWarmStartCache()
	build := func(opts Options) *Problem {
		m, err := NewUniformMesh(trk, 10, true)
		test.That(t, err, test.ShouldBeNil)
		opts.Cache = cache
		opts.CacheKey = "kart"
		p, err := NewProblem(fake.NewKart(trk, 20), m,
			[]ControlChannel{FullMeshControl(nil, 0.1)}, opts, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		return p
	}

	cold := build(Options{SaveWarmStart: true})
	first, err := cold.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)

	stored, ok := cache.Get("kart")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, stored.LapTime, test.ShouldEqual, first.LapTime)

	warm := build(Options{WarmStart: true})
	second, err := warm.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.LapTime, test.ShouldAlmostEqual, first.LapTime, 1e-8)
}

func TestSolveSensitivity(t *testing.T) {
	// The lap time of the kart is L/speed regardless of steering, so its
	// derivative with respect to the speed parameter is -L/speed^2.
	trk := track.NewFlat(100, 5)
	m, err := NewUniformMesh(trk, 8, true)
	test.That(t, err, test.ShouldBeNil)
	p, err := NewProblem(fake.NewKart(trk, 20), m,
		[]ControlChannel{FullMeshControl(nil, 0.1)},
		Options{Sensitivity: true}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	res, err := p.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(res.Sensitivities), test.ShouldEqual, 1)
	sens := res.Sensitivities[0]
	test.That(t, sens.Name, test.ShouldEqual, "speed")
	test.That(t, sens.LapTime, test.ShouldAlmostEqual, -100.0/(20.0*20.0), 1e-3)
	test.That(t, len(sens.States), test.ShouldEqual, m.Points())
}
