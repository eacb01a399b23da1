package extract

import (
	"context"
	"encoding/json"
	"os"

	"cloud.google.com/go/vertexai/genai"
	"github.com/cockroachdb/errors"

	"github.com/mtiwari1/tradeflow/internal/intake"
)

const vertexSystemPrompt = "You are a purchase order parser. You read purchase orders delivered as PDF documents, emails or plain text and return their key fields as JSON."

const vertexUserPrompt = `Extract the following fields from the purchase order above:

- po_number: the purchase order number exactly as printed.
- vendor_name: the name of the supplier the order is addressed to.
- total_amount: the order total as a number, without currency symbols or separators.
- line_items: the number of distinct line items on the order.

If the document is not a purchase order, return an empty po_number.`

// DefaultVertexModel is used when no model name is configured.
const DefaultVertexModel = "gemini-1.5-pro"

// Vertex extracts orders with a Gemini model on Vertex AI.
type Vertex struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewVertex creates a Vertex AI client configured for JSON output.
func NewVertex(ctx context.Context, projectID, region, modelName string) (*Vertex, error) {
	if projectID == "" || region == "" {
		return nil, errors.New("extract: vertex projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultVertexModel
	}

	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, errors.Wrap(err, "genai.NewClient")
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(vertexSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"po_number":    {Type: genai.TypeString},
				"vendor_name":  {Type: genai.TypeString},
				"total_amount": {Type: genai.TypeNumber},
				"line_items":   {Type: genai.TypeInteger},
			},
			Required: []string{"po_number", "vendor_name", "total_amount", "line_items"},
		},
	}

	return &Vertex{client: client, model: model}, nil
}

// Extract implements Extractor.
func (v *Vertex) Extract(ctx context.Context, file intake.FileRef) (PurchaseOrder, error) {
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return PurchaseOrder{}, errors.Wrap(err, "vertex extraction: read file")
	}

	var doc genai.Part
	if file.MediaType == intake.MediaTypePDF {
		doc = genai.Blob{MIMEType: file.MediaType, Data: data}
	} else {
		doc = genai.Text(string(data))
	}

	resp, err := v.model.GenerateContent(ctx, doc, genai.Text(vertexUserPrompt))
	if err != nil {
		return PurchaseOrder{}, errors.Wrap(err, "vertex extraction: generate content")
	}
	return parseVertexResponse(resp)
}

// Close releases the underlying client.
func (v *Vertex) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

func parseVertexResponse(resp *genai.GenerateContentResponse) (PurchaseOrder, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return PurchaseOrder{}, errors.Wrap(ErrUnreadable, "model returned no candidates")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		text, ok := part.(genai.Text)
		if !ok {
			continue
		}
		var order PurchaseOrder
		if err := json.Unmarshal([]byte(text), &order); err != nil {
			return PurchaseOrder{}, errors.Mark(errors.Wrap(err, "model returned invalid JSON"), ErrUnreadable)
		}
		if err := order.validate(); err != nil {
			return PurchaseOrder{}, err
		}
		return order, nil
	}
	return PurchaseOrder{}, errors.Wrap(ErrUnreadable, "model returned no text")
}
