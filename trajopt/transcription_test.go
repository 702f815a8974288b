package trajopt

import (
	"testing"

	"go.viam.com/test"

	"go.apexline.dev/apexline/logging"
	"go.apexline.dev/apexline/track"
	"go.apexline.dev/apexline/vehicle/fake"
)

func newKartProblem(t *testing.T, closed bool, opts Options, channels ...ControlChannel) *Problem {
	t.Helper()
	trk := track.NewFlat(100, 5)
	m, err := NewUniformMesh(trk, 10, closed)
	test.That(t, err, test.ShouldBeNil)
	if channels == nil {
		channels = []ControlChannel{FullMeshControl(nil, 0.1)}
	}
	p, err := NewProblem(fake.NewKart(trk, 20), m, channels, opts, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return p
}

func arbitraryVector(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = 0.001*float64(i) - 0.02
	}
	return x
}

func TestPackUnpackRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name   string
		closed bool
		opts   Options
	}{
		{"direct closed", true, Options{}},
		{"direct open", false, Options{}},
		{"rate closed", true, Options{Rate: true}},
		{"rate open", false, Options{Rate: true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := newKartProblem(t, tc.closed, tc.opts)
			x := arbitraryVector(p.Variables())
			tr, err := p.unpack(x)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, p.pack(tr), test.ShouldResemble, x)
		})
	}
}

func TestPackUnpackSamples(t *testing.T) {
	p := newKartProblem(t, true, Options{})
	tr := p.initialTrajectory()
	for i := 0; i < p.mesh.Points(); i++ {
		tr.q[i][1] = 0.1 * float64(i)
		tr.qa[i][0] = -0.05 * float64(i)
		tr.u[i][0] = 0.01 * float64(i)
	}
	tr2, err := p.unpack(p.pack(tr))
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < p.mesh.Points(); i++ {
		test.That(t, tr2.q[i][1], test.ShouldEqual, tr.q[i][1])
		test.That(t, tr2.qa[i][0], test.ShouldEqual, tr.qa[i][0])
		test.That(t, tr2.u[i][0], test.ShouldEqual, tr.u[i][0])
	}
}

func TestUnpackPinsOpenInitialCondition(t *testing.T) {
	p := newKartProblem(t, false, Options{
		InitialState:     []float64{0, 1.5},
		InitialAlgebraic: []float64{0.25},
		InitialControl:   []float64{0.1},
	})
	tr, err := p.unpack(arbitraryVector(p.Variables()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tr.q[0][1], test.ShouldEqual, 1.5)
	test.That(t, tr.qa[0][0], test.ShouldEqual, 0.25)
	test.That(t, tr.u[0][0], test.ShouldEqual, 0.1)
}

func TestUnpackResolvesChannels(t *testing.T) {
	t.Run("fixed", func(t *testing.T) {
		p := newKartProblem(t, true, Options{}, FixedControl([]float64{0.07}))
		tr, err := p.unpack(arbitraryVector(p.Variables()))
		test.That(t, err, test.ShouldBeNil)
		for i := 0; i < p.mesh.Points(); i++ {
			test.That(t, tr.u[i][0], test.ShouldEqual, 0.07)
		}
	})

	t.Run("hypermesh", func(t *testing.T) {
		p := newKartProblem(t, true, Options{},
			HypermeshControl([]float64{0, 45, 90}, []float64{0, 0, 0}))
		test.That(t, p.Variables(), test.ShouldEqual, 10*2+3)
		x := arbitraryVector(p.Variables())
		tr, err := p.unpack(x)
		test.That(t, err, test.ShouldBeNil)
		// mesh point 5 sits at s=50, between the second and third breakpoints
		c := p.channels[0]
		test.That(t, tr.u[5][0], test.ShouldAlmostEqual,
			c.interpolate(tr.hyperVals[0], 50), 1e-12)
		test.That(t, p.pack(tr), test.ShouldResemble, x)
	})
}

func TestVariableAndConstraintCounts(t *testing.T) {
	// Kart layout: 2 states (time excluded from the decision vector),
	// 1 algebraic, 1 control, 1 path constraint.
	t.Run("direct closed", func(t *testing.T) {
		p := newKartProblem(t, true, Options{})
		test.That(t, p.Variables(), test.ShouldEqual, 10*(1+1+1))
		test.That(t, p.Constraints(), test.ShouldEqual, 10*(1+1+1))
	})
	t.Run("direct open pins the first point", func(t *testing.T) {
		p := newKartProblem(t, false, Options{})
		test.That(t, p.Variables(), test.ShouldEqual, 10*(1+1+1))
		test.That(t, p.Constraints(), test.ShouldEqual, 10*(1+1+1))
	})
	t.Run("rate adds rate variables and control defects", func(t *testing.T) {
		p := newKartProblem(t, true, Options{Rate: true})
		test.That(t, p.Variables(), test.ShouldEqual, 10*(1+1+2))
		test.That(t, p.Constraints(), test.ShouldEqual, 10*(1+1+1+1))
	})
	t.Run("integral constraints add rows", func(t *testing.T) {
		p := newKartProblem(t, true, Options{
			IntegralConstraints: []IntegralConstraint{{Name: "fuel", Min: 0, Max: 1}},
		})
		test.That(t, p.Constraints(), test.ShouldEqual, 10*3+1)
	})
}
