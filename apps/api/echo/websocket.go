package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

type websocketApi struct {
	*Deps
}

func registerWebsocketAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := websocketApi{Deps: deps}
	g.GET("/ws", api.subscribe, jwt)
}

// subscribe upgrades the connection and subscribes it to the `class_id` channel, if any.
// Further channels are joined by the client over the socket.
func (api *websocketApi) subscribe(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	classID := core.CleanString(ctx.QueryParam("class_id"))
	if classID != "" {
		if _, err := api.ClassSvc.GetByID(ctx.Request().Context(), classID); err != nil {
			return errors.Wrap(err, "finding class")
		}
	}

	// the upgrader has already answered when Serve fails
	if err := api.Subscriber.Serve(ctx.Response(), ctx.Request(), usr.ID, classID); err != nil {
		api.Logger.Warn("websocket: "+err.Error(), map[string]interface{}{"user_id": usr.ID})
	}
	return nil
}
