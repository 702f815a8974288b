package trajopt

import (
	"testing"

	"go.viam.com/test"
)

func TestWarmStartCache(t *testing.T) {
	cache := NewWarmStartCache()

	_, ok := cache.Get("gt3")
	test.That(t, ok, test.ShouldBeFalse)

	first := &Result{LapTime: 92.4}
	cache.Put("gt3", first)
	got, ok := cache.Get("gt3")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldEqual, first)

	// a new result for the same key replaces the old one
	second := &Result{LapTime: 91.8}
	cache.Put("gt3", second)
	got, ok = cache.Get("gt3")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldEqual, second)

	// keys are independent
	cache.Put("lmp2", first)
	got, ok = cache.Get("gt3")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldEqual, second)
}
