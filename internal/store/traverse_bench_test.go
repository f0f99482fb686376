package store

import (
	"fmt"
	"testing"
)

// populateTraverseBench creates a graph with controlled fan-out for BFS
// benchmarks. The root calls fanOut children, each of which calls fanOut
// leaves.
func populateTraverseBench(b *testing.B, fanOut int) (s *Store, rootID int64) {
	b.Helper()
	var err error
	s, err = OpenMemory()
	if err != nil {
		b.Fatal(err)
	}
	if err := s.UpsertWorkspace("bench", "/tmp/bench"); err != nil {
		b.Fatal(err)
	}

	nextID := 0
	makeNode := func(name string) int64 {
		id, nodeErr := s.UpsertNode(&Node{
			Workspace:     "bench",
			Label:         LabelFunction,
			Name:          name,
			QualifiedName: fmt.Sprintf("bench::funcs::%s", name),
			FilePath:      "src/funcs.rs",
			StartLine:     nextID*5 + 1,
			EndLine:       nextID*5 + 4,
		})
		if nodeErr != nil {
			b.Fatal(nodeErr)
		}
		nextID++
		return id
	}

	rootID = makeNode("root")

	// Depth 1: root -> children
	depth1IDs := make([]int64, fanOut)
	for i := 0; i < fanOut; i++ {
		depth1IDs[i] = makeNode(fmt.Sprintf("child_%d", i))
		if _, err := s.InsertEdge(&Edge{
			Workspace: "bench",
			SourceID:  rootID,
			TargetID:  depth1IDs[i],
			Type:      EdgeCalls,
		}); err != nil {
			b.Fatal(err)
		}
	}

	// Depth 2: each depth-1 node -> fanOut leaf nodes
	for i, parentID := range depth1IDs {
		for j := 0; j < fanOut; j++ {
			leafID := makeNode(fmt.Sprintf("leaf_%d_%d", i, j))
			if _, err := s.InsertEdge(&Edge{
				Workspace: "bench",
				SourceID:  parentID,
				TargetID:  leafID,
				Type:      EdgeCalls,
			}); err != nil {
				b.Fatal(err)
			}
		}
	}

	return s, rootID
}

func BenchmarkBFS50Edges(b *testing.B) {
	// fanOut=7 gives 1 + 7 + 49 = 57 nodes and 56 edges (close to 50)
	s, rootID := populateTraverseBench(b, 7)
	defer s.Close()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		result, err := s.BFS(rootID, "outbound", []string{EdgeCalls}, 3, 200)
		if err != nil {
			b.Fatal(err)
		}
		if len(result.Visited) == 0 {
			b.Fatal("expected visited nodes")
		}
	}
}

func BenchmarkBFS200Edges(b *testing.B) {
	// fanOut=14 gives 1 + 14 + 196 = 211 nodes, 210 edges
	s, rootID := populateTraverseBench(b, 14)
	defer s.Close()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		result, err := s.BFS(rootID, "outbound", []string{EdgeCalls}, 3, 300)
		if err != nil {
			b.Fatal(err)
		}
		if len(result.Visited) == 0 {
			b.Fatal("expected visited nodes")
		}
	}
}

func BenchmarkBFSInbound(b *testing.B) {
	s, err := OpenMemory()
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	if err := s.UpsertWorkspace("bench", "/tmp/bench"); err != nil {
		b.Fatal(err)
	}

	// A popular function called by 50 callers
	targetID, _ := s.UpsertNode(&Node{
		Workspace:     "bench",
		Label:         LabelFunction,
		Name:          "popular",
		QualifiedName: "bench::funcs::popular",
		FilePath:      "src/popular.rs",
	})

	for i := 0; i < 50; i++ {
		callerID, _ := s.UpsertNode(&Node{
			Workspace:     "bench",
			Label:         LabelFunction,
			Name:          fmt.Sprintf("caller_%d", i),
			QualifiedName: fmt.Sprintf("bench::callers::caller_%d", i),
			FilePath:      fmt.Sprintf("src/callers/caller_%d.rs", i),
		})
		if _, err := s.InsertEdge(&Edge{
			Workspace: "bench",
			SourceID:  callerID,
			TargetID:  targetID,
			Type:      EdgeCalls,
		}); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		result, err := s.BFS(targetID, "inbound", []string{EdgeCalls}, 2, 200)
		if err != nil {
			b.Fatal(err)
		}
		if len(result.Visited) == 0 {
			b.Fatal("expected visited nodes")
		}
	}
}

func BenchmarkBFSDepthScaled(b *testing.B) {
	for _, depth := range []int{1, 2, 3, 5} {
		b.Run(fmt.Sprintf("depth=%d", depth), func(b *testing.B) {
			s, rootID := populateTraverseBench(b, 5)
			defer s.Close()

			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				_, err := s.BFS(rootID, "outbound", []string{EdgeCalls}, depth, 500)
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
