// Package scoring merges generated and keyword-derived lead scores.
//
// Heuristic signals are a declarative table of rules evaluated against the
// folded (lowercase, accent-free) user text of the current batch. Rules apply
// in table order and the score is clamped after every step.
package scoring

import (
	"regexp"

	"chatfunnel_backend/internal/conversations/domain"
	"chatfunnel_backend/platform/textnorm"
)

// Input is the user text of one batch in the forms rules match against.
type Input struct {
	Folded string
	Words  int
}

// NewInput folds raw user text.
func NewInput(userText string) Input {
	return Input{Folded: textnorm.Fold(userText), Words: textnorm.WordCount(userText)}
}

// Rule adds Delta to Metric when Pattern matches the folded text or When returns true.
type Rule struct {
	Name    string
	Metric  domain.Metric
	Delta   int
	Pattern *regexp.Regexp
	When    func(Input) bool
}

// Matches reports whether the rule fires for in.
func (r Rule) Matches(in Input) bool {
	if r.Pattern != nil && r.Pattern.MatchString(in.Folded) {
		return true
	}
	return r.When != nil && r.When(in)
}

func family(alternatives string) *regexp.Regexp {
	return regexp.MustCompile(`\b(?:` + alternatives + `)\b`)
}

var (
	mediaRequest = family(`manda.*foto|quero ver|deixa eu ver|cade|nudes?|foto|video|pelada|sem roupa|manda mais`)
	compliment   = family(`gostosa|delicia|d[ei]l?icia|tesao|safada|linda`)
	explicit     = family(`quero transar|chupar|comer|foder|gozar|pau|buceta|porra|me come|te comer`)
	rejection    = family(`nao sou tarado|nao to tarado|nao curto|nao gosto disso|nao quero isso|para com isso|respeita|pare|sem putaria|sem nude|nao manda|nao gostei|voce e feia|vc e feia`)
	onlyChat     = family(`so quero conversar|nao quero nada sexual|so amizade`)
	unavailable  = family(`sou casado|sou comprometido|tenho esposa|minha esposa|minha mulher|minha namorada|to de boa|so conversando|nao to afim|nao quero nada agora`)

	priceQuestion = family(`quanto custa|pix|vou comprar|passa o pix|quanto e|preco|valor|mensal|vitalicio`)
	wealth        = family(`tenho dinheiro|sou rico|ferrari|viajei|carro|viagem`)
	noMoney       = family(`ta caro|caro|sem dinheiro|liso|desempregado`)

	loneliness = family(`bom dia amor|boa noite vida|sonhei com vc|to sozinho|ninguem me quer|queria uma namorada|carente|me chama|sdds|saudade`)
	longing    = family(`saudade|solidao|sentindo falta|carinho|afeto`)

	rudeOrCold = family(`vc e chata|voce e chata|chata|feia|ridicula|idiota|burra|vai se foder|vai tomar|toma no cu|vtnc|vsf|se fode|se fuder|cala a boca|fodase|foda-se|nao enche|para de encher|ta chato|ta chata|ta irritante|nao quero falar|nao quero conversar|me deixa|para de falar|para de mandar|ta me enchendo|to de boa|nao to afim|nao quero`)
)

func shortReply(in Input) bool {
	return in.Words > 0 && in.Words <= 2
}

// Rules is the heuristic table, in evaluation order.
var Rules = []Rule{
	{Name: "media_request", Metric: domain.MetricLust, Delta: 15, Pattern: mediaRequest},
	{Name: "compliment", Metric: domain.MetricLust, Delta: 6, Pattern: compliment},
	{Name: "explicit", Metric: domain.MetricLust, Delta: 25, Pattern: explicit},
	{Name: "rejection", Metric: domain.MetricLust, Delta: -30, Pattern: rejection},
	{Name: "only_chat", Metric: domain.MetricLust, Delta: -20, Pattern: onlyChat},
	{Name: "rejection_affection", Metric: domain.MetricAffection, Delta: -15, Pattern: rejection},
	{Name: "rejection_sentimental", Metric: domain.MetricSentimental, Delta: -15, Pattern: rejection},
	{Name: "only_chat_affection", Metric: domain.MetricAffection, Delta: -10, Pattern: onlyChat},
	{Name: "only_chat_sentimental", Metric: domain.MetricSentimental, Delta: -10, Pattern: onlyChat},
	{Name: "unavailable", Metric: domain.MetricLust, Delta: -15, Pattern: unavailable},

	{Name: "price_question", Metric: domain.MetricFinancial, Delta: 20, Pattern: priceQuestion},
	{Name: "wealth", Metric: domain.MetricFinancial, Delta: 20, Pattern: wealth},
	{Name: "no_money", Metric: domain.MetricFinancial, Delta: -20, Pattern: noMoney},

	{Name: "loneliness", Metric: domain.MetricAffection, Delta: 15, Pattern: loneliness},
	{Name: "short_reply", Metric: domain.MetricAffection, Delta: -10, When: shortReply},

	{Name: "longing", Metric: domain.MetricSentimental, Delta: 15, Pattern: longing},

	{Name: "rude_affection", Metric: domain.MetricAffection, Delta: -15, Pattern: rudeOrCold},
	{Name: "rude_sentimental", Metric: domain.MetricSentimental, Delta: -20, Pattern: rudeOrCold},
	{Name: "rude_lust", Metric: domain.MetricLust, Delta: -15, Pattern: rudeOrCold},
}

// Heuristic applies the rule table to prev.
func Heuristic(prev domain.LeadScore, in Input) domain.LeadScore {
	return apply(Rules, prev, in)
}

// Fired lists the names of the rules that match in, for logs and debugging.
func Fired(in Input) []string {
	var names []string
	for _, rule := range Rules {
		if rule.Matches(in) {
			names = append(names, rule.Name)
		}
	}
	return names
}

func apply(rules []Rule, prev domain.LeadScore, in Input) domain.LeadScore {
	score := prev.Clamp()
	for _, rule := range rules {
		if rule.Matches(in) {
			score = score.Add(rule.Metric, rule.Delta)
		}
	}
	return score
}

// HasLustTrigger reports whether any positive lust rule fires. Without one the
// lust metric may not rise on this turn.
func HasLustTrigger(in Input) bool {
	for _, rule := range Rules {
		if rule.Metric == domain.MetricLust && rule.Delta > 0 && rule.Matches(in) {
			return true
		}
	}
	return false
}
