package mockchat

import (
	"fmt"
	"strings"

	"github.com/ashureev/meshchat/internal/domain"
)

// Keywords that steer the mock into special responses.
const (
	KeywordSlow     = "__slow__"
	KeywordFail     = "__fail__"
	KeywordAccepted = "__accepted__"
	KeywordEmpty    = "__empty__"
)

type answerBody struct {
	Answer     string                      `json:"answer"`
	Citations  []domain.ReferencedDocument `json:"citations"`
	Actions    []domain.Action             `json:"actions"`
	UsedModels usedModels                  `json:"used_models"`
}

type usedModels struct {
	CompletionModel string `json:"completion_model"`
	EmbeddingModel  string `json:"embedding_model"`
}

var kialiDocs = []domain.ReferencedDocument{
	{
		Link:  "https://kiali.io/docs/features/topology/",
		Title: "Topology",
		Body:  "The graph shows the topology of your service mesh.",
	},
	{
		Link:  "https://kiali.io/docs/features/health/",
		Title: "Health",
		Body:  "Health is computed from request error rates and workload status.",
	},
}

// buildAnswer returns the canned answer for a query.
func buildAnswer(model, query string) answerBody {
	q := strings.ToLower(query)
	ans := answerBody{
		Citations:  []domain.ReferencedDocument{},
		Actions:    []domain.Action{},
		UsedModels: usedModels{CompletionModel: model, EmbeddingModel: "mock-embedding"},
	}

	switch {
	case strings.Contains(q, KeywordEmpty):
		ans.Answer = ""
	case strings.Contains(q, "yaml"):
		ans.Answer = "Here is a <b>VirtualService</b> routing all traffic to v1."
		ans.Actions = append(ans.Actions, domain.Action{
			Kind:     domain.ActionKindFile,
			Title:    "Download VirtualService",
			Payload:  "apiVersion: networking.istio.io/v1\nkind: VirtualService\nmetadata:\n  name: reviews\n",
			FileName: "reviews-vs.yaml",
		})
	case strings.Contains(q, "graph") && strings.Contains(q, "workload"):
		ans.Answer = "Both the mesh graph and the workloads list are relevant."
		ans.Actions = append(ans.Actions,
			domain.Action{Kind: domain.ActionKindNavigation, Title: "View Mesh Graph", Payload: "/mesh"},
			domain.Action{Kind: domain.ActionKindNavigation, Title: "View workloads List", Payload: "/workloads?namespaces=bookinfo"},
		)
	case strings.Contains(q, "graph") || strings.Contains(q, "mesh"):
		ans.Answer = "Your mesh is healthy & serving traffic."
		ans.Actions = append(ans.Actions, domain.Action{Kind: domain.ActionKindNavigation, Title: "View Mesh Graph", Payload: "/mesh"})
	case strings.Contains(q, "workload"):
		ans.Answer = "details-v1 is running 1 pod."
		ans.Actions = append(ans.Actions, domain.Action{
			Kind:    domain.ActionKindNavigation,
			Title:   "View workload Details",
			Payload: "/namespaces/bookinfo/workloads/details-v1?tab=logs",
		})
	case strings.Contains(q, "service"):
		ans.Answer = "productpage receives 12 rps."
		ans.Actions = append(ans.Actions, domain.Action{
			Kind:    domain.ActionKindNavigation,
			Title:   "View service Details",
			Payload: "/namespaces/bookinfo/services/productpage?tab=metrics",
		})
	case strings.Contains(q, "doc") || strings.Contains(q, "health"):
		ans.Answer = "See the Kiali documentation for details."
		ans.Citations = append(ans.Citations, kialiDocs...)
	default:
		ans.Answer = fmt.Sprintf("You asked: %s", query)
	}
	return ans
}
