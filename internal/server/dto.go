package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"deskline/internal/bus"
	"deskline/internal/config"
	"deskline/internal/domain"
	"deskline/internal/validate"
)

type healthOutput struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

func registerHealth(group *huma.Group) {
	huma.Register(group, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		return out, nil
	})
}

type opInfo struct {
	ID            string `json:"id"`
	Kind          string `json:"kind" enum:"query,action"`
	TenantAware   bool   `json:"tenant_aware"`
	RequireTenant bool   `json:"require_tenant"`
}

type listOpsOutput struct {
	Body struct {
		Items []opInfo `json:"items"`
	}
}

type dispatchInput struct {
	ID      string `path:"id" example:"count.users"`
	RawBody []byte `required:"false"`
}

type dispatchOutput struct {
	Body any
}

func registerOps(group *huma.Group, b bus.Engine) {
	huma.Register(group, huma.Operation{
		OperationID: "list-ops",
		Method:      http.MethodGet,
		Path:        "/ops",
		Summary:     "List registered operations",
	}, func(ctx context.Context, _ *struct{}) (*listOpsOutput, error) {
		if _, aerr := actorFromContext(ctx); aerr != nil {
			return nil, aerr
		}
		out := &listOpsOutput{}
		for _, op := range b.Registry.List() {
			out.Body.Items = append(out.Body.Items, opInfo{
				ID:            op.ID,
				Kind:          string(op.Kind),
				TenantAware:   op.TenantAware,
				RequireTenant: op.RequireTenant,
			})
		}
		return out, nil
	})

	huma.Register(group, huma.Operation{
		OperationID: "dispatch-op",
		Method:      http.MethodPost,
		Path:        "/ops/{id}",
		Summary:     "Dispatch an operation",
		Description: "Looks up the operation, authorizes the calling actor, parses the body and executes.",
	}, func(ctx context.Context, in *dispatchInput) (*dispatchOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		out, err := b.Dispatch(ctx, in.ID, json.RawMessage(in.RawBody), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &dispatchOutput{Body: out}, nil
	})
}

type listFieldsOutput struct {
	Body struct {
		Items []domain.Field `json:"items"`
	}
}

func registerFields(group *huma.Group, app *config.Config) {
	huma.Register(group, huma.Operation{
		OperationID: "list-fields",
		Method:      http.MethodGet,
		Path:        "/fields",
		Summary:     "List configured fields and their validation rules",
	}, func(ctx context.Context, _ *struct{}) (*listFieldsOutput, error) {
		if _, aerr := actorFromContext(ctx); aerr != nil {
			return nil, aerr
		}
		out := &listFieldsOutput{}
		out.Body.Items = app.Fields
		return out, nil
	})
}

type runValidationInput struct {
	Body struct {
		FieldID  string `json:"field_id" example:"curp"`
		Value    any    `json:"value"`
		TicketID string `json:"ticket_id,omitempty"`
	}
}

type runValidationOutput struct {
	Body struct {
		Status  domain.Status   `json:"status" enum:"success,fail"`
		Results []domain.Result `json:"results"`
	}
}

func registerValidations(group *huma.Group, cfg Config) {
	huma.Register(group, huma.Operation{
		OperationID: "run-validation",
		Method:      http.MethodPost,
		Path:        "/validations/run",
		Summary:     "Run all validators attached to a field",
		Description: "Every rule yields one result and one audit record; the aggregate status fails on any non-success result.",
	}, func(ctx context.Context, in *runValidationInput) (*runValidationOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		field, ok := cfg.App.FieldByID(in.Body.FieldID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "unknown field "+in.Body.FieldID, nil)
		}
		results, err := cfg.Runner.Run(ctx, field, in.Body.Value, validate.RunContext{
			TicketID: in.Body.TicketID,
			Actor:    actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &runValidationOutput{}
		out.Body.Status = validate.Aggregate(results)
		out.Body.Results = results
		return out, nil
	})
}
