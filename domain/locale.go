package domain

import "strings"

// Locale selects the response language of the remote service and of local messages.
type Locale string

const (
	LocaleNL Locale = "NL"
	LocaleFR Locale = "FR"

	DefaultLocale = LocaleNL
)

// ParseLocale accepts NL or FR in any case. Anything else falls back to the default.
func ParseLocale(s string) (Locale, bool) {
	switch Locale(strings.ToUpper(strings.TrimSpace(s))) {
	case LocaleNL:
		return LocaleNL, true
	case LocaleFR:
		return LocaleFR, true
	}
	return DefaultLocale, false
}

// SelectFileFirst is shown when an upload or chat turn is attempted without a document/job.
func (l Locale) SelectFileFirst() string {
	if l == LocaleFR {
		return "Veuillez d'abord sélectionner un fichier PDF"
	}
	return "Selecteer eerst een PDF-bestand"
}

// UploadAccepted is the interim message shown while the summary is being generated.
func (l Locale) UploadAccepted() string {
	if l == LocaleFR {
		return "Téléchargement réussi. Génération du résumé en cours…"
	}
	return "Uploaden succesvol. Samenvatting wordt nu gegenereerd..."
}

func (l Locale) UploadButton() string {
	if l == LocaleFR {
		return "Télécharger le bilan/les comptes annuels"
	}
	return "Upload Balans/Jaarrekening"
}

func (l Locale) SendButton() string {
	if l == LocaleFR {
		return "Envoyer"
	}
	return "Verzend"
}
