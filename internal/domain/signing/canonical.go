package signing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/merit/internal/domain/model"
)

// canonicalVersion prefixes every canonical form. Bump it whenever the
// field layout changes so old signatures fail loudly instead of
// verifying against a different shape.
const canonicalVersion = "v1"

// Canonicalize renders the immutable reward fields into a fixed,
// order-independent serialization. Breakdown keys are sorted and floats
// are rendered with strconv shortest-form so the same calculation always
// produces the same bytes regardless of map iteration order or struct
// field ordering.
func Canonicalize(calc *model.RewardCalculation) string {
	cats := make([]string, 0, len(calc.Breakdown))
	for cat := range calc.Breakdown {
		cats = append(cats, string(cat))
	}
	sort.Strings(cats)

	var breakdown strings.Builder
	for i, cat := range cats {
		if i > 0 {
			breakdown.WriteByte(',')
		}
		breakdown.WriteString(cat)
		breakdown.WriteByte(':')
		breakdown.WriteString(formatFloat(calc.Breakdown[model.Category(cat)]))
	}

	return strings.Join([]string{
		canonicalVersion,
		"project=" + calc.Project,
		"period=" + calc.PeriodKey,
		"nominal=" + formatFloat(calc.NominalUSD),
		"granted=" + formatFloat(calc.GrantedUSD),
		"total=" + formatFloat(calc.TotalScore),
		"breakdown=" + breakdown.String(),
		"calculated_at=" + fmt.Sprintf("%d", calc.CalculatedAt.UTC().UnixNano()),
	}, "|")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
