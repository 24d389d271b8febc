package jobs

import (
	"context"
	"encoding/json"
	"time"

	"harvestd/internal/agent"
	"harvestd/internal/model"
	"harvestd/internal/store"
)

// AgentExtractParams is the unmarshalled form of a JobTypeAgentExtract
// job's InputParams, mirroring the /v1/agent/extract request body
// (spec §4.11/§6).
type AgentExtractParams struct {
	URL              string             `json:"url"`
	Prompt           string             `json:"prompt"`
	SchemaDefinition map[string]any     `json:"schemaDefinition"`
	RenderPolicy     model.RenderPolicy `json:"renderPolicy"`
	TimeoutMs        int                `json:"timeoutMs"`
	Provider         string             `json:"provider"`
	Model            string             `json:"model"`
}

// AgentExtractExecutor drives the LLM structured-extraction pipeline
// (C11) to completion for a single JobTypeAgentExtract job.
type AgentExtractExecutor struct {
	Agent *agent.Agent
	Store *store.Store
}

func NewAgentExtractExecutor(a *agent.Agent, st *store.Store) *AgentExtractExecutor {
	return &AgentExtractExecutor{Agent: a, Store: st}
}

func (e *AgentExtractExecutor) Execute(ctx context.Context, job model.Job) {
	var params AgentExtractParams
	if err := json.Unmarshal(job.InputParams, &params); err != nil {
		_ = e.Store.FailJob(ctx, job.ID, model.ErrValidation, "stored job params are not valid JSON")
		return
	}

	timeout := time.Duration(params.TimeoutMs) * time.Millisecond

	result, apiErr := e.Agent.Run(ctx, agent.Request{
		URL:      params.URL,
		Prompt:   params.Prompt,
		Schema:   params.SchemaDefinition,
		Render:   params.RenderPolicy,
		Timeout:  timeout,
		Provider: params.Provider,
		Model:    params.Model,
	})
	if apiErr != nil {
		_ = e.Store.FailJob(ctx, job.ID, apiErr.Code, apiErr.Message)
		return
	}

	_ = e.Store.CompleteJob(ctx, job.ID, result)
}
