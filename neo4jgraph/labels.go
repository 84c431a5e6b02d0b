package neo4jgraph

// Labels of the relationship edges for the well-known relationship verbs.
// Neo4j cannot bind labels as query parameters, so Cypher texts only ever
// embed labels from this table; the relationship type itself always travels
// as the bound `type` edge property.
var edgeLabels = map[string]string{
	"feeds":        "FEEDS",
	"hasPart":      "HAS_PART",
	"isPartOf":     "IS_PART_OF",
	"hasLocation":  "HAS_LOCATION",
	"isLocationOf": "IS_LOCATION_OF",
	"hasPoint":     "HAS_POINT",
	"isPointOf":    "IS_POINT_OF",
	"contains":     "CONTAINS",
	"connectedTo":  "CONNECTED_TO",
}

// CustomEdgeLabel labels the edges of every relationship type without a
// well-known verb.
const CustomEdgeLabel = "RELATES_TO"

// EdgeLabel returns the label of the edges storing relationships of the given
// type.
func EdgeLabel(relType string) string {
	if l, ok := edgeLabels[relType]; ok {
		return l
	}
	return CustomEdgeLabel
}
