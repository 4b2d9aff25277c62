package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/message"
	"github.com/trezcool/academia/core/moderation"
)

type messageApi struct {
	*Deps
}

func registerMessageAPI(g *echo.Group, jwt echo.MiddlewareFunc, limiter *userRateLimiter, deps *Deps) {
	api := messageApi{Deps: deps}

	mg := g.Group("/messages", jwt)
	mg.POST("", api.create, limiter.middleware())
	mg.GET("", api.query)
	mg.GET("/:id", api.retrieve)
	mg.GET("/:id/moderation", api.moderationEntry, adminMiddleware())
	mg.POST("/:id/moderation", api.moderate, adminMiddleware())
}

func (api *messageApi) create(ctx echo.Context) error {
	var data message.NewMessage
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMessage")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	author, err := getContextUser(ctx, api.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	msg, err := api.MessageSvc.Create(ctx.Request().Context(), author, data)
	if err != nil {
		return errors.Wrap(err, "creating message")
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *messageApi) query(ctx echo.Context) error {
	var filter message.Filter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to message.Filter")
	}
	filter.ClassID = core.CleanString(filter.ClassID)
	filter.ThreadID = core.CleanString(filter.ThreadID)

	viewer, err := getContextUser(ctx, api.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	msgs, err := api.MessageSvc.Query(ctx.Request().Context(), viewer, filter)
	if err != nil {
		return errors.Wrap(err, "querying messages")
	}
	return ctx.JSON(http.StatusOK, msgs)
}

func (api *messageApi) retrieve(ctx echo.Context) error {
	viewer, err := getContextUser(ctx, api.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	msg, err := api.MessageSvc.Get(ctx.Request().Context(), viewer, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding message")
	}
	return ctx.JSON(http.StatusOK, msg)
}

func (api *messageApi) moderationEntry(ctx echo.Context) error {
	entry, err := api.ModerationSvc.GetByMessage(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding moderation entry")
	}
	return ctx.JSON(http.StatusOK, entry)
}

func (api *messageApi) moderate(ctx echo.Context) error {
	var data moderation.Decision
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to moderation.Decision")
	}
	if err := api.Validate.Struct(&data); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	entry, err := api.ModerationSvc.Act(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "moderating message")
	}
	return ctx.JSON(http.StatusOK, entry)
}
