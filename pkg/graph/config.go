package graph

import "github.com/OFFIS-RIT/indaga/backend/pkg/common"

// Edge kinds produced by the adapter itself.
const (
	KindMentionedIn = "mentioned_in"
	KindLocatedIn   = "located_in"
)

var nodeColors = map[string]string{
	common.NodeVictim:        "#e74c3c",
	common.NodePerpetrator:   "#8e44ad",
	common.NodeRelative:      "#f39c12",
	common.NodeIllegalEntity: "#2c3e50",
	common.NodeStateEntity:   "#2980b9",
	common.NodePerson:        "#95a5a6",
	common.NodeOrganization:  "#16a085",
	common.NodePlace:         "#27ae60",
	common.NodeDocument:      "#7f8c8d",
}

var edgeColors = map[string]string{
	common.KindSon:          "#f5b041",
	common.KindDaughter:     "#f5b041",
	common.KindBrother:      "#f8c471",
	common.KindSister:       "#f8c471",
	common.KindSpouse:       "#eb984e",
	common.KindParent:       "#dc7633",
	common.KindMemberOf:     "#48c9b0",
	common.KindMilitantOf:   "#45b39d",
	common.KindSympathizer:  "#76d7c4",
	common.KindVictimOf:     "#c0392b",
	common.KindPerpetrator:  "#922b21",
	common.KindCoOccursWith: "#bdc3c7",
	common.KindAppearsWith:  "#bdc3c7",
	KindMentionedIn:         "#aab7b8",
	KindLocatedIn:           "#58d68d",
	"default":               "#d5d8dc",
}

var edgeLabels = map[string]string{
	common.KindSon:          "hijo de",
	common.KindDaughter:     "hija de",
	common.KindBrother:      "hermano de",
	common.KindSister:       "hermana de",
	common.KindSpouse:       "cónyuge de",
	common.KindParent:       "padre o madre de",
	common.KindMemberOf:     "miembro de",
	common.KindMilitantOf:   "militante de",
	common.KindSympathizer:  "simpatizante de",
	common.KindVictimOf:     "víctima de",
	common.KindPerpetrator:  "perpetrador",
	common.KindCoOccursWith: "aparece junto a",
	common.KindAppearsWith:  "aparece con",
	KindMentionedIn:         "mencionado en",
	KindLocatedIn:           "mencionado en el lugar",
}

// levels are the Z-layers of the 3D layout.
var levels = map[string]int{
	common.NodeVictim:        0,
	common.NodePerpetrator:   1,
	common.NodeRelative:      1,
	common.NodePerson:        1,
	common.NodeIllegalEntity: 2,
	common.NodeStateEntity:   2,
	common.NodeOrganization:  2,
	common.NodePlace:         3,
	common.NodeDocument:      4,
}

// Config returns the visualizer contract with a fresh copy of the color maps.
func Config(title string) common.GraphConfig {
	nc := make(map[string]string, len(nodeColors))
	for k, v := range nodeColors {
		nc[k] = v
	}
	ec := make(map[string]string, len(edgeColors))
	for k, v := range edgeColors {
		ec[k] = v
	}
	return common.GraphConfig{Title: title, NodeColors: nc, EdgeColors: ec}
}

func edgeLabel(kind string) string {
	if l, ok := edgeLabels[kind]; ok {
		return l
	}
	return kind
}
