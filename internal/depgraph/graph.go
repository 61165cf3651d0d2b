package depgraph

import "context"

// Adjacency maps a task to the tasks it depends on.
type Adjacency map[string][]string

func (a Adjacency) Targets(_ context.Context, taskID string) ([]string, error) {
	return a[taskID], nil
}

type targetsFunc func(ctx context.Context, taskID string) ([]string, error)

// findPath walks existing depends-on edges breadth first from `from` and
// returns the path from `from` to `to`, or nil when `to` is unreachable.
// Adding to -> from closes a cycle exactly when the path exists.
func findPath(ctx context.Context, from, to string, targets targetsFunc) ([]string, error) {
	queue := []string{from}
	visited := map[string]bool{from: true}
	parent := make(map[string]string)

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node == to {
			return walkBack(parent, from, to), nil
		}

		next, err := targets(ctx, node)
		if err != nil {
			return nil, err
		}
		for _, target := range next {
			if visited[target] {
				continue
			}
			visited[target] = true
			parent[target] = node
			queue = append(queue, target)
		}
	}
	return nil, nil
}

func walkBack(parent map[string]string, from, to string) []string {
	path := []string{to}
	for node := to; node != from; {
		node = parent[node]
		path = append(path, node)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
