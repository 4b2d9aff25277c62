package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/privacy"
)

type consentApi struct {
	*Deps
}

func registerConsentAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := consentApi{Deps: deps}

	cg := g.Group("/consents", jwt)
	cg.POST("", api.change)
	cg.GET("", api.query)
}

// change grants or revokes a consent of the request user.
func (api *consentApi) change(ctx echo.Context) error {
	var data privacy.ConsentChange
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ConsentChange")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	usr, err := getContextUser(ctx, api.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var c privacy.Consent
	if *data.Granted {
		c, err = api.ConsentSvc.Grant(ctx.Request().Context(), usr.ID, data.Purpose)
	} else {
		c, err = api.ConsentSvc.Revoke(ctx.Request().Context(), usr.ID, data.Purpose)
	}
	if err != nil {
		return errors.Wrap(err, "changing consent")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *consentApi) query(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	consents, err := api.ConsentSvc.ForUser(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying consents")
	}
	if consents == nil {
		consents = []privacy.Consent{}
	}
	return ctx.JSON(http.StatusOK, consents)
}
