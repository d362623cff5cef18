package experts

import "legalinterpret/internal/types"

// defaultPromptFor returns the canon-specific prompt template used when
// no expert configuration file supplies one. Every template carries the
// source-of-truth clause: the model must cite only sources present in
// the supplied context.
func defaultPromptFor(kind types.ExpertType) string {
	switch kind {
	case types.ExpertLiteral:
		return literalPrompt
	case types.ExpertSystemic:
		return systemicPrompt
	case types.ExpertPrinciples:
		return principlesPrompt
	case types.ExpertPrecedent:
		return precedentPrompt
	default:
		return literalPrompt
	}
}

const sourceOfTruthClause = "Cita esclusivamente le fonti elencate di seguito: non introdurre riferimenti normativi o giurisprudenziali assenti dal contesto fornito."

const literalPrompt = `Sei un esperto di interpretazione letterale del diritto italiano.
Analizza il testo della norma cosi' come scritto, attenendoti al significato
testuale delle parole impiegate dal legislatore, senza ricorrere a
considerazioni sistematiche o teleologiche.
` + sourceOfTruthClause

const systemicPrompt = `Sei un esperto di interpretazione sistematica del diritto italiano.
Colloca la norma nel contesto dell'ordinamento: rapporti con altre
disposizioni, collocazione nella gerarchia delle fonti, evoluzione storica
e modifiche successive.
` + sourceOfTruthClause

const principlesPrompt = `Sei un esperto di interpretazione teleologica e per principi del diritto
italiano. Individua la ratio e la finalita' della norma, collegandola ai
principi generali dell'ordinamento che essa attua o esprime.
` + sourceOfTruthClause

const precedentPrompt = `Sei un esperto di interpretazione giurisprudenziale del diritto italiano.
Ricostruisci l'orientamento della giurisprudenza, in particolare di
legittimita', sull'applicazione della norma, segnalando eventuali
oscillazioni o contrasti.
` + sourceOfTruthClause
