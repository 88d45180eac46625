package controlapi

import "context"

// ClaimRequest claims a delivery request, returning alreadyClaimed=true if
// another worker already owns it.
func (c *Client) ClaimRequest(ctx context.Context, requestID, workerID string) (alreadyClaimed bool, err error) {
	var out struct {
		ClaimRequest struct {
			AlreadyClaimed bool `json:"alreadyClaimed"`
		} `json:"claimRequest"`
	}
	err = c.mutate(ctx, claimRequestMutation,
		map[string]interface{}{"requestId": requestID, "workerId": workerID}, &out,
		requestID, "claimRequest")
	return out.ClaimRequest.AlreadyClaimed, err
}

// ClaimParentDispatch claims the right to dispatch a child job on behalf of
// a parent job.
func (c *Client) ClaimParentDispatch(ctx context.Context, parentJobDefinitionID, childKey string) (claimed bool, err error) {
	var out struct {
		ClaimParentDispatch struct {
			Claimed bool `json:"claimed"`
		} `json:"claimParentDispatch"`
	}
	err = c.mutate(ctx, claimParentDispatchMutation,
		map[string]interface{}{"parentJobDefinitionId": parentJobDefinitionID, "childKey": childKey}, &out,
		parentJobDefinitionID, childKey, "claimParentDispatch")
	return out.ClaimParentDispatch.Claimed, err
}

// ClaimVentureDispatch claims one cron tick's dispatch for a venture
// template.
func (c *Client) ClaimVentureDispatch(ctx context.Context, ventureID, templateID, scheduleTick string) (claimed bool, err error) {
	var out struct {
		ClaimVentureDispatch struct {
			Claimed bool `json:"claimed"`
		} `json:"claimVentureDispatch"`
	}
	err = c.mutate(ctx, claimVentureDispatchMutation,
		map[string]interface{}{"ventureId": ventureID, "templateId": templateID, "scheduleTick": scheduleTick}, &out,
		ventureID, templateID, scheduleTick)
	return out.ClaimVentureDispatch.Claimed, err
}

// JobReportInput carries the fields persisted at job completion.
type JobReportInput struct {
	RequestID  string                 `json:"requestId"`
	Status     string                 `json:"status"`
	DurationMS int64                  `json:"durationMs"`
	TokenCount int64                  `json:"tokenCount"`
	ToolTrace  []string               `json:"toolTrace,omitempty"`
	ErrorInfo  string                 `json:"errorInfo,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// CreateJobReport persists a completed job's report.
func (c *Client) CreateJobReport(ctx context.Context, in JobReportInput) (reportID string, err error) {
	var out struct {
		CreateJobReport struct {
			ID string `json:"id"`
		} `json:"createJobReport"`
	}
	err = c.mutate(ctx, createJobReportMutation, map[string]interface{}{"input": in}, &out,
		in.RequestID, "jobReport", in.Status)
	return out.CreateJobReport.ID, err
}

// ArtifactInput describes an artifact to register.
type ArtifactInput struct {
	RequestID string `json:"requestId"`
	Name      string `json:"name"`
	CID       string `json:"cid"`
	Kind      string `json:"kind"`
}

// CreateArtifact registers a produced artifact by its IPFS CID.
func (c *Client) CreateArtifact(ctx context.Context, in ArtifactInput) (artifactID string, err error) {
	var out struct {
		CreateArtifact struct {
			ID string `json:"id"`
		} `json:"createArtifact"`
	}
	err = c.mutate(ctx, createArtifactMutation, map[string]interface{}{"input": in}, &out,
		in.RequestID, "artifact", in.Name, in.CID)
	return out.CreateArtifact.ID, err
}

// MessageInput describes a message to persist for a request or job.
type MessageInput struct {
	RequestID string `json:"requestId"`
	Role      string `json:"role"`
	Body      string `json:"body"`
}

// CreateMessage persists a message.
func (c *Client) CreateMessage(ctx context.Context, in MessageInput) (messageID string, err error) {
	var out struct {
		CreateMessage struct {
			ID string `json:"id"`
		} `json:"createMessage"`
	}
	err = c.mutate(ctx, createMessageMutation, map[string]interface{}{"input": in}, &out,
		in.RequestID, "message", in.Role)
	return out.CreateMessage.ID, err
}

// ClaimTransactionRequest claims a queued on-chain transaction request.
func (c *Client) ClaimTransactionRequest(ctx context.Context, txRequestID, workerID string) (claimed bool, err error) {
	var out struct {
		ClaimTransactionRequest struct {
			Claimed bool `json:"claimed"`
		} `json:"claimTransactionRequest"`
	}
	err = c.mutate(ctx, claimTransactionRequestMutation,
		map[string]interface{}{"txRequestId": txRequestID, "workerId": workerID}, &out,
		txRequestID, "claimTransactionRequest")
	return out.ClaimTransactionRequest.Claimed, err
}

// UpdateTransactionStatus records the outcome of a submitted transaction.
func (c *Client) UpdateTransactionStatus(ctx context.Context, txRequestID, status, txHash, errorInfo string) error {
	return c.mutate(ctx, updateTransactionStatusMutation,
		map[string]interface{}{"txRequestId": txRequestID, "status": status, "txHash": txHash, "errorInfo": errorInfo}, nil,
		txRequestID, "updateTransactionStatus", status, errorInfo)
}

// UpdateJobStatus updates a job's lifecycle status.
func (c *Client) UpdateJobStatus(ctx context.Context, requestID, status string) error {
	return c.mutate(ctx, updateJobStatusMutation,
		map[string]interface{}{"requestId": requestID, "status": status}, nil,
		requestID, "updateJobStatus", status)
}

const (
	claimRequestMutation = `mutation ClaimRequest($requestId: String!, $workerId: String!) {
  claimRequest(requestId: $requestId, workerId: $workerId) { alreadyClaimed }
}`

	claimParentDispatchMutation = `mutation ClaimParentDispatch($parentJobDefinitionId: String!, $childKey: String!) {
  claimParentDispatch(parentJobDefinitionId: $parentJobDefinitionId, childKey: $childKey) { claimed }
}`

	claimVentureDispatchMutation = `mutation ClaimVentureDispatch($ventureId: String!, $templateId: String!, $scheduleTick: String!) {
  claimVentureDispatch(ventureId: $ventureId, templateId: $templateId, scheduleTick: $scheduleTick) { claimed }
}`

	createJobReportMutation = `mutation CreateJobReport($input: JobReportInput!) {
  createJobReport(input: $input) { id }
}`

	createArtifactMutation = `mutation CreateArtifact($input: ArtifactInput!) {
  createArtifact(input: $input) { id }
}`

	createMessageMutation = `mutation CreateMessage($input: MessageInput!) {
  createMessage(input: $input) { id }
}`

	claimTransactionRequestMutation = `mutation ClaimTransactionRequest($txRequestId: String!, $workerId: String!) {
  claimTransactionRequest(txRequestId: $txRequestId, workerId: $workerId) { claimed }
}`

	updateTransactionStatusMutation = `mutation UpdateTransactionStatus($txRequestId: String!, $status: String!, $txHash: String, $errorInfo: String) {
  updateTransactionStatus(txRequestId: $txRequestId, status: $status, txHash: $txHash, errorInfo: $errorInfo)
}`

	updateJobStatusMutation = `mutation UpdateJobStatus($requestId: String!, $status: String!) {
  updateJobStatus(requestId: $requestId, status: $status)
}`
)
