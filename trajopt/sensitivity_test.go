package trajopt

import (
	"testing"

	"go.viam.com/test"

	"go.apexline.dev/apexline/vehicle"
)

func TestComputeSensitivitiesAtSteadyState(t *testing.T) {
	// The steady-state trajectory already satisfies every equality defect,
	// so it stands in for a converged solve. Lap time is L/speed, hence its
	// sensitivity to the speed parameter is -L/speed^2.
	p := newKartProblem(t, true, Options{Sensitivity: true})
	x := p.pack(p.initialTrajectory())
	sens, err := p.computeSensitivities(x)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(sens), test.ShouldEqual, 1)
	test.That(t, sens[0].Name, test.ShouldEqual, "speed")
	test.That(t, sens[0].LapTime, test.ShouldAlmostEqual, -100.0/(20.0*20.0), 1e-4)

	// the kart's defects do not couple to speed, so the trajectory itself
	// has no parameter derivative
	for i := 0; i < p.mesh.Points(); i++ {
		test.That(t, sens[0].States[i][1], test.ShouldAlmostEqual, 0, 1e-4)
		test.That(t, sens[0].Controls[i][0], test.ShouldAlmostEqual, 0, 1e-4)
	}
}

func TestDualConstraintsMatchPrimal(t *testing.T) {
	p := newKartProblem(t, true, Options{
		IntegralConstraints: []IntegralConstraint{{Name: "fuel", Min: 0, Max: 30}},
	})
	tr := p.initialTrajectory()
	for i := 0; i < p.mesh.Points(); i++ {
		tr.u[i][0] = 0.01 * float64(i)
		tr.q[i][1] = 0.2 * float64(i%3)
	}
	x := p.pack(tr)
	_, cons, got, err := p.evaluate(x)
	test.That(t, err, test.ShouldBeNil)

	dm, ok := p.model.(vehicle.Differentiable)
	test.That(t, ok, test.ShouldBeTrue)
	consDual, timeDual, err := p.dualConstraints(dm, got, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(consDual), test.ShouldEqual, len(cons))
	for r := range cons {
		test.That(t, consDual[r].Real, test.ShouldAlmostEqual, cons[r], 1e-12)
	}
	test.That(t, timeDual.Real, test.ShouldAlmostEqual, p.timeIntegral(got), 1e-12)
	test.That(t, timeDual.Emag, test.ShouldAlmostEqual, -100.0/(20.0*20.0), 1e-12)
}
