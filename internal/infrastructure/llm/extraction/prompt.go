package extraction

import (
	"fmt"
	"strings"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/catalog"
	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/ports"
)

func buildExtractionPrompt(cat *catalog.Catalog, req ports.ExtractionRequest, chunk string) string {
	var codes strings.Builder
	for _, form := range cat.Forms() {
		codes.WriteString(fmt.Sprintf("Formulaire %s (%s):\n", form, cat.FormLabel(form)))
		for _, line := range cat.Lines(form) {
			codes.WriteString(fmt.Sprintf("  %s: %s\n", line.Code, line.Label))
		}
	}

	var contextBlock string
	if strings.TrimSpace(req.Context) != "" {
		contextBlock = "Client context:\n" + strings.TrimSpace(req.Context) + "\n\n"
	}

	return fmt.Sprintf(`You extract French income tax (IRPP) declaration lines for tax year %d from one client document.
Return a strict JSON object with a single key "entries": an array of objects with keys
form (string), code (string), value (string), description (string), currency (ISO 4217 string),
confidence (number from 0 to 1), account_group (integer).
No markdown, no extra keys, no commentary.

Rules:
- Only use form and code pairs from the list below. Never invent codes.
- Keep value exactly as written in the document, including thousand separators.
- currency is the currency the value is stated in. Use "EUR" when the document is in euros.
- For form 3916 (foreign accounts), give every field of the same account the same account_group,
  starting at 1 for the first account in the document.
- Omit anything you cannot tie to a listed code.

%sKnown form lines:
%s
Document:
%s`, req.TaxYear, contextBlock, codes.String(), chunk)
}
