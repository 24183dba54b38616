package cube

import (
	"fmt"
	"time"
)

// cubeAndID points at one row of one underlying cube.
type cubeAndID struct {
	cube Cube
	id   int
}

// JointCube unions several physically separate cubes into one logical
// id-indexed view without copying data.
//
//   - If no ids are given, the order of the ids in the input cubes defines
//     the order in the joint view; given ids define the order (and the
//     subset) explicitly.
//   - With requireUniqueIDs, an id occurring in more than one input cube is
//     an error. Without it, Get returns the sum over the matching rows and
//     Set on such an id fails.
type JointCube struct {
	cubes    []Cube
	ids      []string
	idIdx    map[string]int
	rowRefs  [][]cubeAndID
	numDates int
	samples  int
	depth    int
}

// NewJointCube builds a joint view over the given cubes. All input cubes
// must agree on dates, samples and depth.
func NewJointCube(cubes []Cube, ids []string, requireUniqueIDs bool) (*JointCube, error) {
	if len(cubes) == 0 {
		return nil, fmt.Errorf("joint cube: no input cubes")
	}
	first := cubes[0]
	for i, c := range cubes[1:] {
		if c.NumDates() != first.NumDates() || c.Samples() != first.Samples() || c.Depth() != first.Depth() {
			return nil, fmt.Errorf("joint cube: input cube %d has inconsistent dimensions (dates %d/%d, samples %d/%d, depth %d/%d)",
				i+1, c.NumDates(), first.NumDates(), c.Samples(), first.Samples(), c.Depth(), first.Depth())
		}
	}

	j := &JointCube{
		cubes:    cubes,
		idIdx:    make(map[string]int),
		numDates: first.NumDates(),
		samples:  first.Samples(),
		depth:    first.Depth(),
	}

	if len(ids) > 0 {
		// Explicit id ordering: each id must be unique and found in at
		// least one input cube.
		for _, id := range ids {
			if _, ok := j.idIdx[id]; ok {
				return nil, fmt.Errorf("joint cube: duplicate id %q in explicit id list", id)
			}
			var refs []cubeAndID
			for _, c := range cubes {
				if idx, ok := c.IDsAndIndexes()[id]; ok {
					refs = append(refs, cubeAndID{cube: c, id: idx})
				}
			}
			if len(refs) == 0 {
				return nil, fmt.Errorf("joint cube: id %q not found in any input cube", id)
			}
			if requireUniqueIDs && len(refs) > 1 {
				return nil, fmt.Errorf("joint cube: id %q occurs in %d input cubes but unique ids are required", id, len(refs))
			}
			j.idIdx[id] = len(j.ids)
			j.ids = append(j.ids, id)
			j.rowRefs = append(j.rowRefs, refs)
		}
		return j, nil
	}

	// No explicit ids: input cube order defines the id order; the first
	// occurrence of a duplicate id defines its position.
	for _, c := range cubes {
		ordered := make([]string, c.NumIDs())
		for id, idx := range c.IDsAndIndexes() {
			ordered[idx] = id
		}
		for idx, id := range ordered {
			if pos, ok := j.idIdx[id]; ok {
				if requireUniqueIDs {
					return nil, fmt.Errorf("joint cube: duplicate id %q in input cubes but unique ids are required", id)
				}
				j.rowRefs[pos] = append(j.rowRefs[pos], cubeAndID{cube: c, id: idx})
				continue
			}
			j.idIdx[id] = len(j.ids)
			j.ids = append(j.ids, id)
			j.rowRefs = append(j.rowRefs, []cubeAndID{{cube: c, id: idx}})
		}
	}
	return j, nil
}

// NumIDs returns the number of ids in the joint view.
func (j *JointCube) NumIDs() int { return len(j.ids) }

// NumDates returns the number of cube dates.
func (j *JointCube) NumDates() int { return j.numDates }

// Samples returns the number of Monte Carlo samples.
func (j *JointCube) Samples() int { return j.samples }

// Depth returns the cube depth.
func (j *JointCube) Depth() int { return j.depth }

// IDsAndIndexes returns the joint id -> row index mapping.
func (j *JointCube) IDsAndIndexes() map[string]int { return j.idIdx }

// Dates returns the cube dates.
func (j *JointCube) Dates() []time.Time { return j.cubes[0].Dates() }

// Asof returns the cube anchor date.
func (j *JointCube) Asof() time.Time { return j.cubes[0].Asof() }

func (j *JointCube) refs(id int) ([]cubeAndID, error) {
	if id < 0 || id >= len(j.rowRefs) {
		return nil, fmt.Errorf("joint cube: id index %d out of range [0,%d)", id, len(j.rowRefs))
	}
	return j.rowRefs[id], nil
}

// GetT0 returns the T0 value, summed over duplicate ids.
func (j *JointCube) GetT0(id, depth int) (float64, error) {
	refs, err := j.refs(id)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, r := range refs {
		v, err := r.cube.GetT0(r.id, depth)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum, nil
}

// SetT0 writes the T0 value; ids spanning more than one input cube
// cannot be written.
func (j *JointCube) SetT0(value float64, id, depth int) error {
	refs, err := j.refs(id)
	if err != nil {
		return err
	}
	if len(refs) != 1 {
		return fmt.Errorf("joint cube: cannot set value for id index %d spanning %d input cubes", id, len(refs))
	}
	return refs[0].cube.SetT0(value, refs[0].id, depth)
}

// Get returns one entry, summed over duplicate ids.
func (j *JointCube) Get(id, date, sample, depth int) (float64, error) {
	refs, err := j.refs(id)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, r := range refs {
		v, err := r.cube.Get(r.id, date, sample, depth)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum, nil
}

// Set writes one entry; ids spanning more than one input cube cannot be
// written.
func (j *JointCube) Set(value float64, id, date, sample, depth int) error {
	refs, err := j.refs(id)
	if err != nil {
		return err
	}
	if len(refs) != 1 {
		return fmt.Errorf("joint cube: cannot set value for id index %d spanning %d input cubes", id, len(refs))
	}
	return refs[0].cube.Set(value, refs[0].id, date, sample, depth)
}
