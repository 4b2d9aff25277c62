package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/audit"
	"github.com/trezcool/academia/core/message"
	"github.com/trezcool/academia/core/moderation"
)

type complianceApi struct {
	*Deps
}

func registerModerationAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := complianceApi{Deps: deps}
	g.GET("/moderation", api.moderationQueue, jwt, adminMiddleware())
}

func registerAuditAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := complianceApi{Deps: deps}
	g.GET("/audit", api.auditLog, jwt, adminMiddleware())
}

func registerComplianceAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := complianceApi{Deps: deps}
	g.GET("/compliance/stats", api.stats, jwt, adminMiddleware())
}

func (api *complianceApi) moderationQueue(ctx echo.Context) error {
	var filter moderation.Filter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to moderation.Filter")
	}
	entries, err := api.ModerationSvc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying moderation queue")
	}
	if entries == nil {
		entries = []moderation.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *complianceApi) auditLog(ctx echo.Context) error {
	filter := audit.Filter{
		MessageID: core.CleanString(ctx.QueryParam("message_id")),
		ActorID:   core.CleanString(ctx.QueryParam("actor_id")),
		Action:    audit.Action(core.CleanString(ctx.QueryParam("action"), true /* lower */)),
	}
	var err error
	if filter.From, err = queryTime(ctx, "from"); err != nil {
		return err
	}
	if filter.To, err = queryTime(ctx, "to"); err != nil {
		return err
	}

	entries, err := api.AuditSvc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying audit log")
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *complianceApi) stats(ctx echo.Context) error {
	q := message.StatsQuery{
		Scope: message.Scope(core.CleanString(ctx.QueryParam("scope"), true /* lower */)),
		ID:    ctx.QueryParam("id"),
	}
	stats, err := api.MessageSvc.Stats(ctx.Request().Context(), q)
	if err != nil {
		return errors.Wrap(err, "computing compliance stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}
