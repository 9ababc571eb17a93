package service

import (
	"context"
	"io"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// AllCircuitsID addresses every circuit in the REST routes.
const AllCircuitsID = "_all"

// Operation names reported to transport middleware.
const (
	OperationControlAPI          = "/gateleen.circuitbreaker/ControlAPI"
	OperationListCircuits        = "/gateleen.circuitbreaker/ListCircuits"
	OperationGetCircuit          = "/gateleen.circuitbreaker/GetCircuit"
	OperationGetStatus           = "/gateleen.circuitbreaker/GetCircuitStatus"
	OperationChangeStatus        = "/gateleen.circuitbreaker/ChangeCircuitStatus"
	OperationGetConfiguration    = "/gateleen.circuitbreaker/GetConfiguration"
	OperationUpdateConfiguration = "/gateleen.circuitbreaker/UpdateConfiguration"
	OperationDeleteConfiguration = "/gateleen.circuitbreaker/DeleteConfiguration"
)

// RegisterCircuitBreakerHTTPServer registers the control API, the circuit
// routes and the configuration routes below prefix.
func RegisterCircuitBreakerHTTPServer(s *http.Server, prefix string, circuits *CircuitService, config *ConfigService) {
	r := s.Route(prefix)
	r.POST("/api", controlAPIHandler(circuits))
	r.GET("/circuit", listCircuitsHandler(circuits))
	r.GET("/circuit/{id}", getCircuitHandler(circuits))
	r.GET("/circuit/{id}/status", getCircuitStatusHandler(circuits))
	r.PUT("/circuit/{id}/status", changeCircuitStatusHandler(circuits))
	r.GET("/config", getConfigHandler(config))
	r.PUT("/config", updateConfigHandler(config))
	r.DELETE("/config", deleteConfigHandler(config))
}

func controlAPIHandler(srv *CircuitService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in APIRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationControlAPI)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Execute(ctx, req.(*APIRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func listCircuitsHandler(srv *CircuitService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationListCircuits)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ListCircuits(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func getCircuitHandler(srv *CircuitService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		id := ctx.Vars().Get("id")
		if id == AllCircuitsID {
			return listCircuitsHandler(srv)(ctx)
		}
		http.SetOperation(ctx, OperationGetCircuit)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetCircuit(ctx, req.(string))
		})
		out, err := h(ctx, id)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func getCircuitStatusHandler(srv *CircuitService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		id := ctx.Vars().Get("id")
		if id == AllCircuitsID {
			return errors.New(405, "METHOD_NOT_ALLOWED", "the status of all circuits cannot be read at once")
		}
		http.SetOperation(ctx, OperationGetStatus)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetCircuitStatus(ctx, req.(string))
		})
		out, err := h(ctx, id)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func changeCircuitStatusHandler(srv *CircuitService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in StatusView
		if err := ctx.Bind(&in); err != nil {
			return errors.BadRequest("INVALID_STATUS", "Body must contain a correct 'status' value")
		}
		id := ctx.Vars().Get("id")
		http.SetOperation(ctx, OperationChangeStatus)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, srv.ChangeCircuitStatus(ctx, id, req.(*StatusView))
		})
		if _, err := h(ctx, &in); err != nil {
			return err
		}
		return ctx.Result(200, nil)
	}
}

func getConfigHandler(srv *ConfigService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationGetConfiguration)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetConfig(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func updateConfigHandler(srv *ConfigService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		doc, err := io.ReadAll(ctx.Request().Body)
		if err != nil {
			return errors.BadRequest("INVALID_BODY", err.Error())
		}
		http.SetOperation(ctx, OperationUpdateConfiguration)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, srv.UpdateConfig(ctx, req.([]byte))
		})
		if _, err := h(ctx, doc); err != nil {
			return err
		}
		return ctx.Result(200, nil)
	}
}

func deleteConfigHandler(srv *ConfigService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationDeleteConfiguration)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, srv.DeleteConfig(ctx)
		})
		if _, err := h(ctx, nil); err != nil {
			return err
		}
		return ctx.Result(200, nil)
	}
}
