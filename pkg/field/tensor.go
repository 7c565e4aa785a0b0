package field

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"dtiseed/internal/models"
)

// Channels is the number of float samples stored per voxel:
// confidence, Dxx, Dxy, Dxz, Dyy, Dyz, Dzz.
const Channels = 7

// Tensor is the symmetric 3x3 diffusion tensor of one voxel.
type Tensor struct {
	Dxx, Dxy, Dxz float64
	Dyy, Dyz      float64
	Dzz           float64
}

// TensorFromSamples reads the six tensor entries following the confidence
// channel of a 7-channel voxel tuple.
func TensorFromSamples(s []float32) Tensor {
	return Tensor{
		Dxx: float64(s[1]), Dxy: float64(s[2]), Dxz: float64(s[3]),
		Dyy: float64(s[4]), Dyz: float64(s[5]),
		Dzz: float64(s[6]),
	}
}

// Sym returns the tensor as a gonum symmetric matrix.
func (t Tensor) Sym() *mat.SymDense {
	return mat.NewSymDense(3, []float64{
		t.Dxx, t.Dxy, t.Dxz,
		t.Dxy, t.Dyy, t.Dyz,
		t.Dxz, t.Dyz, t.Dzz,
	})
}

// Eigen holds the paired eigenvalues and eigenvectors of a tensor. Vectors[i]
// belongs to Values[i].
type Eigen struct {
	Values  [3]float64
	Vectors [3][3]float64
}

// Decompose computes the symmetric eigendecomposition of t.
func (t Tensor) Decompose() (Eigen, error) {
	var es mat.EigenSym
	if ok := es.Factorize(t.Sym(), true); !ok {
		return Eigen{}, ErrEigenFailed
	}
	values := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	var e Eigen
	for i := 0; i < 3; i++ {
		e.Values[i] = values[i]
		for r := 0; r < 3; r++ {
			e.Vectors[i][r] = vecs.At(r, i)
		}
	}
	return e, nil
}

// FractionalAnisotropy computes FA from eigenvalues using their absolute
// values. It returns 0 when all eigenvalues are zero.
func FractionalAnisotropy(values [3]float64) float64 {
	abs := []float64{math.Abs(values[0]), math.Abs(values[1]), math.Abs(values[2])}
	sort.Float64s(abs)
	l1, l2, l3 := abs[2], abs[1], abs[0]

	denom := math.Sqrt(2 * (l1*l1 + l2*l2 + l3*l3))
	if denom == 0 {
		return 0
	}
	num := math.Sqrt((l1-l2)*(l1-l2) + (l1-l3)*(l1-l3) + (l2-l3)*(l2-l3))
	return num / denom
}

// PrincipalIndex returns the index of the eigenvalue with the largest
// absolute value. The first one wins on ties.
func PrincipalIndex(values [3]float64) int {
	best := 0
	for i := 1; i < 3; i++ {
		if math.Abs(values[i]) > math.Abs(values[best]) {
			best = i
		}
	}
	return best
}

// canonicalSign flips v so that its component of largest magnitude is
// positive. Eigenvectors are only defined up to sign.
func canonicalSign(v [3]float64) [3]float64 {
	big := 0
	for i := 1; i < 3; i++ {
		if math.Abs(v[i]) > math.Abs(v[big]) {
			big = i
		}
	}
	if v[big] < 0 {
		return [3]float64{-v[0], -v[1], -v[2]}
	}
	return v
}

// Analyze turns one 7-channel voxel tuple into a directional voxel.
// Voxels whose confidence is not exactly 1 carry no information.
func Analyze(s []float32, faEpsilon float64) (models.Voxel, error) {
	if s[0] != 1.0 {
		return models.Voxel{}, nil
	}
	e, err := TensorFromSamples(s).Decompose()
	if err != nil {
		return models.Voxel{}, err
	}
	fa := FractionalAnisotropy(e.Values)
	if fa <= faEpsilon {
		// isotropic enough to have no meaningful direction
		return models.Voxel{}, nil
	}
	dir := canonicalSign(e.Vectors[PrincipalIndex(e.Values)])
	return models.Voxel{
		DirX: float32(dir[0]),
		DirY: float32(dir[1]),
		DirZ: float32(dir[2]),
		FA:   float32(fa),
	}, nil
}
