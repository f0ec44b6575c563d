package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"appbee/internal/domain"
	"appbee/internal/engine/auth"
	"appbee/internal/registry"
)

func registerAuth(api huma.API, gate auth.Gate) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange email and password for a bearer token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		token, exp, p, err := gate.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := gate.Repo.GetAccount(ctx, nil, p.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{
			Token:     token,
			ExpiresAt: exp.UTC().Format(time.RFC3339),
			Account:   accountResponse(a),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: meResponse(p)}, nil
	})
}

func registerAccounts(api huma.API, reg registry.Registry) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-account",
		Method:        http.MethodPost,
		Path:          "/accounts/register",
		Summary:       "Register an account; it stays PENDING until an admin approves it",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		a, err := reg.Register(ctx, registry.RegisterOptions{
			FullName:  input.Body.FullName,
			Email:     input.Body.Email,
			Password:  input.Body.Password,
			Role:      input.Body.Role,
			CompanyID: input.Body.CompanyID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: accountResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-account",
		Method:      http.MethodGet,
		Path:        "/accounts/{account_id}",
		Summary:     "Get an account (self or admin)",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		a, err := reg.Get(ctx, p, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: accountResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pending-accounts",
		Method:      http.MethodGet,
		Path:        "/admin/accounts/pending",
		Summary:     "Accounts awaiting approval, oldest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AccountResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		items, err := reg.ListPending(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AccountResponse, 0, len(items))
		for _, a := range items {
			out = append(out, accountResponse(a))
		}
		return &struct {
			Body []AccountResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-account",
		Method:      http.MethodPost,
		Path:        "/admin/accounts/{account_id}/approve",
		Summary:     "Approve a pending account",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		a, err := reg.Approve(ctx, p, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: accountResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "reject-account",
		Method:        http.MethodDelete,
		Path:          "/admin/accounts/{account_id}/reject",
		Summary:       "Reject an account and release its email",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*struct{}, error) {
		p, _ := principalFromContext(ctx)
		if err := reg.Reject(ctx, p, input.AccountID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/admin/accounts/{account_id}/api-keys",
		Summary:       "Mint an API key for an account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AccountID string               `path:"account_id"`
		Body      *CreateAPIKeyRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		name := ""
		if input.Body != nil {
			name = input.Body.Name
		}
		if _, err := reg.Get(ctx, p, input.AccountID); err != nil {
			return nil, handleError(err)
		}
		key, plain, err := reg.CreateAPIKey(ctx, p, input.AccountID, name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			AccountID: key.AccountID,
			Name:      key.Name,
			Key:       plain,
			CreatedAt: key.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/admin/accounts/{account_id}/api-keys",
		Summary:     "List an account's API keys; plaintext keys are never returned",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*struct {
		Body []APIKeySummary `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		keys, err := reg.ListAPIKeys(ctx, p, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeySummary, 0, len(keys))
		for _, k := range keys {
			out = append(out, APIKeySummary{ID: k.ID, AccountID: k.AccountID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeySummary `json:"body"`
		}{Body: out}, nil
	})
}

func registerCompanies(api huma.API, reg registry.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "list-companies",
		Method:      http.MethodGet,
		Path:        "/companies",
		Summary:     "List companies a registrant can join",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []CompanyResponse `json:"body"`
	}, error) {
		items, err := reg.ListCompanies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CompanyResponse `json:"body"`
		}{Body: mapCompanies(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-list-companies",
		Method:      http.MethodGet,
		Path:        "/admin/companies",
		Summary:     "List companies with owners",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []CompanyResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		if err := p.Require(domain.RoleAdmin); err != nil {
			return nil, handleError(err)
		}
		items, err := reg.ListCompanies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CompanyResponse `json:"body"`
		}{Body: mapCompanies(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-company",
		Method:        http.MethodPost,
		Path:          "/admin/companies",
		Summary:       "Create company",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateCompanyRequest `json:"body"`
	}) (*struct {
		Body CompanyResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		c, err := reg.CreateCompany(ctx, p, registry.CompanyInput{
			Name:           input.Body.Name,
			Description:    input.Body.Description,
			OwnerAccountID: input.Body.OwnerAccountID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompanyResponse `json:"body"`
		}{Body: companyResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-company",
		Method:      http.MethodPut,
		Path:        "/admin/companies/{company_id}",
		Summary:     "Update company",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string               `path:"company_id"`
		Body      UpdateCompanyRequest `json:"body"`
	}) (*struct {
		Body CompanyResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		c, err := reg.UpdateCompany(ctx, p, input.CompanyID, registry.CompanyPatch{
			Name:           input.Body.Name,
			Description:    input.Body.Description,
			OwnerAccountID: input.Body.OwnerAccountID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompanyResponse `json:"body"`
		}{Body: companyResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-company",
		Method:        http.MethodDelete,
		Path:          "/admin/companies/{company_id}",
		Summary:       "Delete a company that has no tasks",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct{}, error) {
		p, _ := principalFromContext(ctx)
		if err := reg.DeleteCompany(ctx, p, input.CompanyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
