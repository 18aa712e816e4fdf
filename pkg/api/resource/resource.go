// Package resource serves the admin API over tracked resources.
package resource

import (
	"context"
	"net/http"
	"time"

	"github.com/LambdaTest/janitor/pkg/api/middleware"
	apiutils "github.com/LambdaTest/janitor/pkg/api/utils"
	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/guregu/null.v4/zero"
)

const identityQuery = "identity"

type resourceResponse struct {
	ID         string                 `json:"id"`
	Identity   *core.IdentityEnvelope `json:"identity"`
	State      core.ResourceState     `json:"state"`
	Creation   time.Time              `json:"creation"`
	Expiration time.Time              `json:"expiration"`
	Metadata   zero.String            `json:"metadata"`
	Labels     map[string]string      `json:"labels,omitempty"`
}

type createResponse struct {
	ID    string             `json:"id"`
	State core.ResourceState `json:"state"`
}

type updateStateRequest struct {
	Identity core.IdentityEnvelope `json:"identity" binding:"required"`
	State    core.ResourceState    `json:"state" binding:"required,resource_state"`
}

// HandleCreate registers a resource for cleanup.
func HandleCreate(lifecycle core.ResourceLifecycleService, logger lumber.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := new(core.CreateResourceRequest)
		if err := c.ShouldBindJSON(req); err != nil {
			c.JSON(http.StatusBadRequest, errs.ValidationErr(err))
			return
		}
		if _, err := req.Identity.Identity(); err != nil {
			c.JSON(http.StatusBadRequest, errs.ValidationErr(err))
			return
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		resource, err := lifecycle.CreateResource(ctx, req)
		if err != nil {
			apiutils.ErrResponse(c, err, logger)
			return
		}
		c.JSON(http.StatusCreated, &createResponse{ID: resource.ID, State: resource.State})
	}
}

// HandleFind returns the resource with the id in the path.
func HandleFind(lifecycle core.ResourceLifecycleService, logger lumber.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		resource, err := lifecycle.GetResource(ctx, c.Param("id"))
		if err != nil {
			apiutils.ErrResponse(c, err, logger)
			return
		}
		resp, err := toResponse(resource)
		if err != nil {
			apiutils.ErrResponse(c, err, logger)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleFindByIdentity returns every resource registered for the identity in the query.
func HandleFindByIdentity(lifecycle core.ResourceLifecycleService, logger lumber.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query(identityQuery)
		if raw == "" {
			c.JSON(http.StatusBadRequest, errs.MissingInQueryErr(identityQuery))
			return
		}
		envelope := new(core.IdentityEnvelope)
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(raw, envelope); err != nil {
			c.JSON(http.StatusBadRequest, errs.InvalidQueryErr(identityQuery))
			return
		}
		identity, err := envelope.Identity()
		if err != nil {
			c.JSON(http.StatusBadRequest, errs.ValidationErr(err))
			return
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		resources, err := lifecycle.GetResources(ctx, identity)
		if err != nil {
			apiutils.ErrResponse(c, err, logger)
			return
		}
		respond(c, resources, logger)
	}
}

// HandleList returns a page of resources, optionally filtered by state.
func HandleList(lifecycle core.ResourceLifecycleService, logger lumber.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := &core.ResourceFilter{
			Limit:  c.GetInt(middleware.LimitKey),
			Offset: c.GetInt(middleware.OffsetKey),
		}
		if state := core.ResourceState(c.Query("state")); state != "" {
			if !state.Valid() {
				c.JSON(http.StatusBadRequest, errs.InvalidQueryErr("state"))
				return
			}
			filter.AllowedStates = []core.ResourceState{state}
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		resources, err := lifecycle.ListResources(ctx, filter)
		if err != nil {
			apiutils.ErrResponse(c, err, logger)
			return
		}
		respond(c, resources, logger)
	}
}

// HandleUpdateState abandons or bumps the resources of an identity.
func HandleUpdateState(lifecycle core.ResourceLifecycleService, logger lumber.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := new(updateStateRequest)
		if err := c.ShouldBindJSON(req); err != nil {
			c.JSON(http.StatusBadRequest, errs.ValidationErr(err))
			return
		}
		identity, err := req.Identity.Identity()
		if err != nil {
			c.JSON(http.StatusBadRequest, errs.ValidationErr(err))
			return
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		if err := lifecycle.UpdateResourceState(ctx, identity, req.State); err != nil {
			apiutils.ErrResponse(c, err, logger)
			return
		}
		c.Status(http.StatusOK)
	}
}

func respond(c *gin.Context, resources []*core.TrackedResource, logger lumber.Logger) {
	resp := make([]*resourceResponse, 0, len(resources))
	for _, r := range resources {
		item, err := toResponse(r)
		if err != nil {
			apiutils.ErrResponse(c, err, logger)
			return
		}
		resp = append(resp, item)
	}
	c.JSON(http.StatusOK, resp)
}

func toResponse(r *core.TrackedResource) (*resourceResponse, error) {
	envelope, err := core.NewIdentityEnvelope(r.Identity)
	if err != nil {
		return nil, err
	}
	return &resourceResponse{
		ID:         r.ID,
		Identity:   envelope,
		State:      r.State,
		Creation:   r.Creation,
		Expiration: r.Expiration,
		Metadata:   r.Metadata,
		Labels:     r.Labels,
	}, nil
}
