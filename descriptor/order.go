package descriptor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"coursechatbot/descriptor/models"
	"coursechatbot/errors"
)

// CreationOrder returns node ids so that every node follows all of its
// dependencies. Ties are broken by declaration order, so the result is stable.
func CreationOrder(g *models.ResourceGraph) ([]string, error) {
	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		if _, dup := index[n.ID]; dup {
			return nil, errors.New(errors.ErrGraph, "duplicate node id",
				map[string]interface{}{"node": n.ID}, nil)
		}
		index[n.ID] = i
	}

	pending := make([]int, len(g.Nodes))
	dependents := make([][]int, len(g.Nodes))
	for i, n := range g.Nodes {
		for _, dep := range n.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, errors.New(errors.ErrGraph, "node depends on an undeclared node",
					map[string]interface{}{"node": n.ID, "dependency": dep}, nil)
			}
			pending[i]++
			dependents[j] = append(dependents[j], i)
		}
	}
	for _, o := range g.Outputs {
		if _, ok := index[o.Value.Node]; !ok {
			return nil, errors.New(errors.ErrGraph, "output references an undeclared node",
				map[string]interface{}{"output": o.Name, "node": o.Value.Node}, nil)
		}
	}

	done := make([]bool, len(g.Nodes))
	order := make([]string, 0, len(g.Nodes))
	for len(order) < len(g.Nodes) {
		next := -1
		for i := range g.Nodes {
			if !done[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, n := range g.Nodes {
				if !done[i] {
					stuck = append(stuck, n.ID)
				}
			}
			return nil, errors.New(errors.ErrGraph, "dependency cycle detected",
				map[string]interface{}{"nodes": stuck}, nil)
		}
		done[next] = true
		order = append(order, g.Nodes[next].ID)
		for _, d := range dependents[next] {
			pending[d]--
		}
	}
	return order, nil
}

// DestructionOrder is the reverse of CreationOrder: dependents are released
// before the resources they reference.
func DestructionOrder(g *models.ResourceGraph) ([]string, error) {
	order, err := CreationOrder(g)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// Digest fingerprints the whole graph. Structurally identical graphs have
// the same digest.
func Digest(g *models.ResourceGraph) (string, error) {
	return digestJSON(g)
}

// BootstrapDigest fingerprints the instance user data
func BootstrapDigest(g *models.ResourceGraph) (string, error) {
	props, err := instanceProps(g)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(props.UserData))
	return hex.EncodeToString(sum[:]), nil
}

// InstanceDigest fingerprints the instance declaration without its user
// data. A change here is what makes the engine replace the instance.
func InstanceDigest(g *models.ResourceGraph) (string, error) {
	props, err := instanceProps(g)
	if err != nil {
		return "", err
	}
	props.UserData = ""
	return digestJSON(props)
}

func instanceProps(g *models.ResourceGraph) (models.InstanceProps, error) {
	n, ok := g.Node(InstanceID)
	if !ok {
		return models.InstanceProps{}, errors.New(errors.ErrGraph, "graph declares no instance", nil, nil)
	}
	props, ok := n.Props.(models.InstanceProps)
	if !ok {
		return models.InstanceProps{}, errors.New(errors.ErrGraph, "instance node has unexpected props",
			map[string]interface{}{"node": n.ID}, nil)
	}
	return props, nil
}

func digestJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.New(errors.ErrGraph, "cannot encode graph", nil, err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
