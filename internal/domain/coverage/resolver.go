package coverage

import "strings"

type keywordGroup struct {
	group    string
	keywords []string
}

// Checked in order; the first group with a keyword in the right name wins.
var fallbackKeywords = []keywordGroup{
	{GroupSSS, []string{"ประกันสังคม", "social security"}},
	{GroupFOREIGN, []string{"ต่างด้าว", "foreign"}},
	{GroupPROBLEM, []string{"บุคคลที่มีปัญหา", "ปัญหาสถานะ"}},
	{GroupGOV, []string{"ข้าราชการ", "กรมบัญชีกลาง", "เบิกจ่ายตรง"}},
	{GroupLOCAL, []string{"อปท", "องค์กรปกครองส่วนท้องถิ่น"}},
	{GroupUC, []string{"หลักประกันสุขภาพ", "บัตรทอง", "30 บาท"}},
}

// Resolve maps a right code and name to a coverage group. The longest prefix
// mapping that matches the code wins; otherwise the name is scanned for
// keywords. It returns "" when neither yields a group.
func Resolve(mappings []*Mapping, rightCode, rightName string) string {
	code := strings.ToUpper(strings.TrimSpace(rightCode))
	if code != "" {
		var best *Mapping
		for _, m := range mappings {
			p := strings.ToUpper(strings.TrimSpace(m.RightPrefix))
			if p == "" || !strings.HasPrefix(code, p) {
				continue
			}
			if best == nil || len(p) > len(strings.TrimSpace(best.RightPrefix)) {
				best = m
			}
		}
		if best != nil {
			return strings.ToUpper(strings.TrimSpace(best.CoverageGroup))
		}
	}
	return groupFromName(rightName)
}

func groupFromName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ""
	}
	for _, kg := range fallbackKeywords {
		for _, kw := range kg.keywords {
			if strings.Contains(n, kw) {
				return kg.group
			}
		}
	}
	return ""
}
