package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/recmonkey/scout/agent/contract"
	"github.com/recmonkey/scout/pkg/serper"
	"github.com/sourcegraph/conc/pool"
)

const maxEnrichImages = 4

// EnrichPayload is the enrich adapter's result: curated imagery and the
// lead shopping offer for one product. Either half may be absent when
// its upstream search came back empty or failed.
type EnrichPayload struct {
	Product string        `json:"product"`
	Images  []EnrichImage `json:"images,omitempty"`
	Offer   *EnrichOffer  `json:"offer,omitempty"`
}

type EnrichImage struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

type EnrichOffer struct {
	Title    string  `json:"title"`
	Source   string  `json:"source,omitempty"`
	Link     string  `json:"link"`
	Price    string  `json:"price,omitempty"`
	PriceUSD float64 `json:"priceUsd,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
	Reviews  int     `json:"reviews,omitempty"`
}

type enrichArgs struct {
	ProductName string `json:"productName"`
}

type enrichAdapter struct {
	api serperAPI
}

func newEnrichAdapter(api serperAPI) *enrichAdapter {
	return &enrichAdapter{api: api}
}

func (a *enrichAdapter) Name() contractx.ToolName { return contractx.ToolEnrich }

func (a *enrichAdapter) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: string(contractx.ToolEnrich),
		Desc: "Enrich one specific product with curated images and its current lead shopping offer. Use the exact product name.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"productName": {
				Type:     schema.String,
				Desc:     "Exact product name, e.g. brand plus model",
				Required: true,
			},
		}),
	}
}

func (a *enrichAdapter) ArgsSchema() string {
	return `{
		"type": "object",
		"additionalProperties": false,
		"required": ["productName"],
		"properties": {
			"productName": {"type": "string", "minLength": 1}
		}
	}`
}

func (a *enrichAdapter) Invoke(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	var in enrichArgs
	if err := decodeArgs(args, &in); err != nil {
		return nil, fmt.Errorf("decode enrich args: %w", err)
	}

	var (
		images           []serper.Image
		offers           []serper.Offer
		imgErr, offerErr error
	)
	p := pool.New().WithContext(ctx)
	p.Go(func(ctx context.Context) error {
		images, imgErr = a.api.Images(ctx, in.ProductName, 10)
		return nil
	})
	p.Go(func(ctx context.Context) error {
		offers, offerErr = a.api.Shopping(ctx, in.ProductName)
		return nil
	})
	if err := p.Wait(); err != nil {
		return nil, err
	}
	if imgErr != nil && offerErr != nil {
		return nil, fmt.Errorf("enrich %q: images: %w; shopping: %w", in.ProductName, imgErr, offerErr)
	}

	payload := EnrichPayload{
		Product: in.ProductName,
		Images:  curateImages(images),
		Offer:   leadOffer(offers),
	}
	return json.Marshal(payload)
}

// curateImages picks up to four images, preferring near-square aspect
// ratios; search position breaks ties.
func curateImages(images []serper.Image) []EnrichImage {
	type ranked struct {
		img      serper.Image
		distance float64
		position int
	}
	candidates := make([]ranked, 0, len(images))
	for i, img := range images {
		if img.Width <= 0 || img.Height <= 0 || strings.TrimSpace(img.URL) == "" {
			continue
		}
		aspect := float64(img.Width) / float64(img.Height)
		candidates = append(candidates, ranked{
			img:      img,
			distance: math.Abs(aspect - 1),
			position: i,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].position < candidates[j].position
	})

	n := len(candidates)
	if n > maxEnrichImages {
		n = maxEnrichImages
	}
	out := make([]EnrichImage, 0, n)
	for _, c := range candidates[:n] {
		out = append(out, EnrichImage{URL: c.img.URL, Title: c.img.Title})
	}
	return out
}

// leadOffer returns the first listing that carries a link.
func leadOffer(offers []serper.Offer) *EnrichOffer {
	for _, o := range offers {
		link := strings.TrimSpace(o.Link)
		if link == "" {
			continue
		}
		return &EnrichOffer{
			Title:    o.Title,
			Source:   o.Source,
			Link:     link,
			Price:    o.Price,
			PriceUSD: o.PriceUSD,
			Rating:   o.Rating,
			Reviews:  o.Reviews,
		}
	}
	return nil
}
