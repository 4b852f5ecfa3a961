package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"reward-bot/internal/model"
)

type reportField struct {
	label    string
	key      string
	fallback string
}

// reportFields fixes the rendered label order.
var reportFields = []reportField{
	{"Roll No", model.FieldRoll, "-"},
	{"Student Name", model.FieldStudentName, "-"},
	{"Course Code", model.FieldCourseCode, "-"},
	{"Department", model.FieldDepartment, "-"},
	{"Year", model.FieldYear, "-"},
	{"Mentor", model.FieldMentor, "-"},
	{"Cum. Points", model.FieldCumPoints, "0"},
	{"Redeemed", model.FieldRedeemed, "0"},
	{"Balance", model.FieldBalance, "0"},
	{"Year Avg", model.FieldYearAvg, "0"},
	{"Status", model.FieldStatus, "-"},
}

// formatReport renders a payload as an HTML preformatted block. Output
// depends only on the payload.
func formatReport(report model.Report) string {
	var b strings.Builder
	b.WriteString("<pre>\n")
	for i, f := range reportFields {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(fmt.Sprintf("%s : %s", f.label, escape(report.Text(f.key, f.fallback))))
	}
	b.WriteString("\n</pre>")
	return b.String()
}

func progressText(frame string) string {
	return textFetching + "\n" + frame
}

func reportKeyboard(contactURL string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnCheckAnother, cbCheckAnother),
			tgbotapi.NewInlineKeyboardButtonURL(btnContactAdmin, contactURL),
		),
	)
}

// splitMessage cuts text into chunks of at most limit bytes, preferring line
// boundaries and never splitting a rune.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		if cur.Len()+len(line) <= limit {
			cur.WriteString(line)
			continue
		}
		flush()
		for len(line) > limit {
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		cur.WriteString(line)
	}
	flush()
	return chunks
}
