// Package credentials obtains provider bearer tokens from the credential broker
// function. Every call invokes the function again; tokens carry no expiry
// information, so nothing is cached.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/lucaslui/hems/media-receiver/internal/media"
	"github.com/lucaslui/hems/media-receiver/internal/metrics"
	"github.com/lucaslui/hems/media-receiver/internal/model"
)

var (
	ErrNoToken       = errors.New("credentials: broker returned no token")
	ErrFunctionError = errors.New("credentials: broker function error")
	ErrMalformed     = errors.New("credentials: malformed broker response")
)

const responseSchemaJSON = `{
  "type": "object",
  "required": ["success"],
  "properties": {
    "success": {"type": "boolean"},
    "token": {"type": ["string", "null"]}
  }
}`

var responseSchema = jsonschema.MustCompileString("broker-response.json", responseSchemaJSON)

// Invoker is satisfied by *lambda.Client.
type Invoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

type request struct {
	AccountID string `json:"accountId"`
}

type response struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

// Broker is safe for concurrent use.
type Broker struct {
	invoker  Invoker
	function string
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewBroker(invoker Invoker, functionName string, logger *zap.Logger, m *metrics.Metrics) *Broker {
	return &Broker{invoker: invoker, function: functionName, logger: logger, metrics: m}
}

// Resolve asks the broker for a token for accountID. Any failure is logged and
// reported as ok=false.
func (b *Broker) Resolve(ctx context.Context, accountID string) (model.Credential, bool) {
	cred, err := b.token(ctx, accountID)
	if err != nil {
		b.metrics.Credential(resultLabel(err))
		b.logger.Error("credential broker returned no token",
			zap.String("account_id", accountID),
			zap.String("function", b.function),
			zap.Error(err),
		)
		return model.Credential{}, false
	}
	b.metrics.Credential("ok")
	return cred, true
}

func (b *Broker) token(ctx context.Context, accountID string) (model.Credential, error) {
	payload, err := json.Marshal(request{AccountID: accountID})
	if err != nil {
		return model.Credential{}, err
	}

	out, err := b.invoker.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(b.function),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return model.Credential{}, fmt.Errorf("invoke %s: %w", b.function, err)
	}
	if out.FunctionError != nil {
		return model.Credential{}, fmt.Errorf("%w: %s", ErrFunctionError, aws.ToString(out.FunctionError))
	}

	return parseResponse(out.Payload)
}

func parseResponse(payload []byte) (model.Credential, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return model.Credential{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := responseSchema.Validate(doc); err != nil {
		return model.Credential{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return model.Credential{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	token := media.CleanToken(resp.Token)
	if !resp.Success || token == "" {
		return model.Credential{}, ErrNoToken
	}
	return model.Credential{Token: token}, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrNoToken):
		return "denied"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrFunctionError):
		return "function_error"
	default:
		return "transport_error"
	}
}
