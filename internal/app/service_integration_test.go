package service_test

import (
	"context"
	"testing"
	"time"

	service "github.com/okian/merit/internal/app"
	"github.com/okian/merit/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// waitForCalculation polls the store until a calculation for the project
// appears or the deadline passes.
func waitForCalculation(ctx context.Context, svc *service.Service, project string, deadline time.Duration) (model.RewardCalculation, bool) {
	timeout := time.After(deadline)
	for {
		select {
		case <-timeout:
			return model.RewardCalculation{}, false
		case <-time.After(10 * time.Millisecond):
			if calc, err := svc.Latest(ctx, project); err == nil {
				return calc, true
			}
		}
	}
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a service tracking several projects", t, func() {
		github := &stubGitHub{metrics: maxedGitHub()}
		chain := &stubChain{metrics: maxedChain()}
		projects := []service.Project{
			{Name: "acme/widgets", ChainAccount: "widgets.near"},
			{Name: "acme/gadgets", ChainAccount: "gadgets.near"},
			{Name: "acme/docs"},
		}
		svc := newTestService(github, chain, service.WithProjects(projects))
		defer svc.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		So(svc.Start(ctx), ShouldBeNil)

		Convey("When a collection cycle is triggered for every project", func() {
			svc.EnqueueAll(ctx)

			Convey("Then every project should end up with a signed calculation", func() {
				for _, p := range projects {
					calc, ok := waitForCalculation(ctx, svc, p.Name, 5*time.Second)
					So(ok, ShouldBeTrue)
					So(calc.Project, ShouldEqual, p.Name)
					So(calc.Signature, ShouldNotBeEmpty)
					So(svc.VerifyLatest(ctx, p.Name, calc.Signature), ShouldBeNil)
				}
			})

			Convey("And the chain-less project should be scored off-chain only", func() {
				calc, ok := waitForCalculation(ctx, svc, "acme/docs", 5*time.Second)
				So(ok, ShouldBeTrue)
				So(calc.OnchainScore, ShouldAlmostEqual, 0, 0.001)
				So(calc.TotalScore, ShouldAlmostEqual, 100, 0.001)
			})

			Convey("And the pool should carry every grant", func() {
				for _, p := range projects {
					_, ok := waitForCalculation(ctx, svc, p.Name, 5*time.Second)
					So(ok, ShouldBeTrue)
				}
				pool, err := svc.PoolState(ctx)
				So(err, ShouldBeNil)
				So(pool.CommittedUSD, ShouldBeGreaterThan, 0)
				So(pool.CommittedUSD, ShouldBeLessThanOrEqualTo, pool.CeilingUSD)
			})
		})

		Convey("When the same project is collected twice", func() {
			_, ok := svc.Enqueue(ctx, "acme/widgets")
			So(ok, ShouldBeTrue)

			_, found := waitForCalculation(ctx, svc, "acme/widgets", 5*time.Second)
			So(found, ShouldBeTrue)

			// The first cycle has finished, so a new one is accepted.
			id, ok := svc.Enqueue(ctx, "acme/widgets")
			So(ok, ShouldBeTrue)
			So(id, ShouldNotBeEmpty)

			Convey("Then history should accumulate both cycles", func() {
				deadline := time.After(5 * time.Second)
				for {
					history, err := svc.History(ctx, "acme/widgets", 10)
					So(err, ShouldBeNil)
					if len(history) >= 2 {
						break
					}
					select {
					case <-deadline:
						So(len(history), ShouldBeGreaterThanOrEqualTo, 2)
						return
					case <-time.After(10 * time.Millisecond):
					}
				}
			})
		})
	})
}
