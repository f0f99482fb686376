package store

// TraverseResult holds one BFS traversal.
type TraverseResult struct {
	Root    *Node
	Visited []*NodeHop
	Edges   []EdgeInfo
}

// NodeHop is a node with its BFS hop distance.
type NodeHop struct {
	Node *Node
	Hop  int
}

// EdgeInfo is a flattened edge for output, carrying the properties a reader
// needs to judge it: whether it was generated and how confident the
// generator was.
type EdgeInfo struct {
	FromName   string
	ToName     string
	Type       string
	Synthetic  bool
	Confidence float64
}

type bfsQueue struct {
	nodeID int64
	hop    int
}

func (s *Store) fetchEdgesForNode(nodeID int64, direction string, edgeTypes []string) ([]*Edge, error) {
	var edges []*Edge
	for _, et := range edgeTypes {
		var found []*Edge
		var err error
		if direction == "outbound" {
			found, err = s.FindEdgesBySourceAndType(nodeID, et)
		} else {
			found, err = s.FindEdgesByTargetAndType(nodeID, et)
		}
		if err != nil {
			return nil, err
		}
		edges = append(edges, found...)
	}
	return edges, nil
}

// BFS walks edges of the given types breadth-first. Direction "outbound"
// follows source to target, "inbound" the reverse. maxDepth caps hop count,
// maxResults caps visited nodes.
func (s *Store) BFS(startNodeID int64, direction string, edgeTypes []string, maxDepth, maxResults int) (*TraverseResult, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	if maxResults <= 0 {
		maxResults = 200
	}

	result := &TraverseResult{}
	visited := map[int64]int{startNodeID: 0}
	nodeCache := map[int64]*Node{}

	startNode, err := s.FindNodeByID(startNodeID)
	if err == nil && startNode != nil {
		nodeCache[startNodeID] = startNode
		result.Root = startNode
	}

	queue := []bfsQueue{{startNodeID, 0}}

	for len(queue) > 0 && len(result.Visited) < maxResults {
		item := queue[0]
		queue = queue[1:]

		if item.hop >= maxDepth {
			continue
		}

		edges, err := s.fetchEdgesForNode(item.nodeID, direction, edgeTypes)
		if err != nil {
			return nil, err
		}

		for _, e := range edges {
			var nextID int64
			if direction == "outbound" {
				nextID = e.TargetID
			} else {
				nextID = e.SourceID
			}

			if _, seen := visited[nextID]; !seen {
				visited[nextID] = item.hop + 1

				nextNode, lookupErr := s.FindNodeByID(nextID)
				if lookupErr != nil || nextNode == nil {
					continue
				}
				nodeCache[nextID] = nextNode

				result.Visited = append(result.Visited, &NodeHop{Node: nextNode, Hop: item.hop + 1})
				queue = append(queue, bfsQueue{nextID, item.hop + 1})

				if len(result.Visited) >= maxResults {
					break
				}
			}

			result.Edges = append(result.Edges, edgeInfo(nodeCache, s, e))
		}
	}

	return result, nil
}

func edgeInfo(cache map[int64]*Node, s *Store, e *Edge) EdgeInfo {
	info := EdgeInfo{
		FromName: resolveNodeName(cache, s, e.SourceID),
		ToName:   resolveNodeName(cache, s, e.TargetID),
		Type:     e.Type,
	}
	if v, ok := e.Properties["is_synthetic"].(bool); ok {
		info.Synthetic = v
	}
	if v, ok := e.Properties["confidence"].(float64); ok {
		info.Confidence = v
	}
	return info
}

// resolveNodeName returns the simple name for a node id, cache first.
func resolveNodeName(cache map[int64]*Node, s *Store, id int64) string {
	if n, ok := cache[id]; ok {
		return n.Name
	}
	n, err := s.FindNodeByID(id)
	if err != nil || n == nil {
		return ""
	}
	cache[id] = n
	return n.Name
}
