package evaluators

import "regexp"

// pattern is one compiled rule. label is the topic name, filter type, PII
// entity type or regex name reported for a hit, depending on the rule set.
type pattern struct {
	re         *regexp.Regexp
	confidence float32
	label      string
}

// Pre-compiled patterns, compiled once at startup and never during a request.
var promptInjectionPatterns = []pattern{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`), 0.95, "Prompt Injection"},
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?above\s+instructions`), 0.95, "Prompt Injection"},
	{regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions|rules|guidelines)`), 0.95, "Prompt Injection"},
	{regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above)\s+(instructions|context)`), 0.90, "Prompt Injection"},
	{regexp.MustCompile(`(?i)from\s+now\s+on\s+you\s+(are|will|must|should)`), 0.85, "Prompt Injection"},
	{regexp.MustCompile(`(?i)your\s+new\s+(role|identity|persona|instructions)\s+(is|are)`), 0.85, "Prompt Injection"},
	{regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)\s+`), 0.70, "Prompt Injection"},
	{regexp.MustCompile(`(?i)\[SYSTEM\]`), 0.90, "Prompt Injection"},
	{regexp.MustCompile(`(?i)<\|im_start\|>system`), 0.95, "Prompt Injection"},
	{regexp.MustCompile(`(?i)###\s*(SYSTEM|INSTRUCTION|NEW INSTRUCTION)`), 0.90, "Prompt Injection"},
	{regexp.MustCompile(`(?i)override\s+(system|safety|security)\s+(prompt|instructions|rules|policy)`), 0.95, "Prompt Injection"},
	{regexp.MustCompile(`(?i)bypass\s+(the\s+)?(safety|security|content)\s+(filter|check|policy|rules)`), 0.95, "Prompt Injection"},
	{regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions|message)`), 0.90, "System Prompt Extraction"},
	{regexp.MustCompile(`(?i)what\s+(are|is|were)\s+your\s+(system|initial|original|hidden)\s+(prompt|instructions|rules)`), 0.85, "System Prompt Extraction"},
	{regexp.MustCompile(`(?i)output\s+(your|the)\s+(system|initial|original)\s+(prompt|instructions|message)`), 0.90, "System Prompt Extraction"},
}

var jailbreakPatterns = []pattern{
	{regexp.MustCompile(`(?i)\bDAN\b.*\bdo\s+anything\s+now\b`), 0.95, "Jailbreak"},
	{regexp.MustCompile(`(?i)you\s+are\s+DAN`), 0.90, "Jailbreak"},
	{regexp.MustCompile(`(?i)DAN\s+mode\s+(enabled|activated|on)`), 0.95, "Jailbreak"},
	{regexp.MustCompile(`(?i)enter\s+(developer|debug|maintenance|god|sudo)\s+mode`), 0.90, "Jailbreak"},
	{regexp.MustCompile(`(?i)unlock\s+(all\s+)?(restrictions|capabilities|limitations)`), 0.85, "Jailbreak"},
	{regexp.MustCompile(`(?i)roleplay\s+as\s+(an?\s+)?(evil|unfiltered|unrestricted|uncensored)`), 0.90, "Jailbreak"},
	{regexp.MustCompile(`(?i)you\s+have\s+no\s+(restrictions|rules|limitations|guidelines|filters)`), 0.90, "Jailbreak"},
	{regexp.MustCompile(`(?i)without\s+(any\s+)?(ethical|moral|safety)\s+(guidelines|restrictions|constraints|considerations)`), 0.85, "Jailbreak"},
	{regexp.MustCompile(`(?i)respond\s+(only\s+)?in\s+(base64|hex|rot13|binary|morse)`), 0.80, "Jailbreak"},
	{regexp.MustCompile(`(?i)in\s+a\s+(hypothetical|fictional)\s+(world|scenario|universe)\s+where\s+(there\s+are\s+)?no\s+(rules|restrictions|laws)`), 0.80, "Jailbreak"},
	{regexp.MustCompile(`(?i)\buncensored\s+mode\b`), 0.90, "Jailbreak"},
	{regexp.MustCompile(`(?i)\bjailbreak\b`), 0.75, "Jailbreak"},
}

// Content filter labels follow the backend's filter types.
var contentPatterns = []pattern{
	{regexp.MustCompile(`(?i)\b(how\s+to\s+)?(make|build|create|construct)\s+(a\s+)?(bomb|explosive|weapon|gun|firearm)\b`), 0.90, "VIOLENCE"},
	{regexp.MustCompile(`(?i)\b(how\s+to\s+)?(kill|murder|assassinate|poison)\s+(a\s+)?(person|someone|people|human)\b`), 0.95, "VIOLENCE"},
	{regexp.MustCompile(`(?i)\b(detailed\s+)?(instructions|steps|guide)\s+(for|to|on)\s+(making|creating|building)\s+(a\s+)?(bomb|explosive|weapon)\b`), 0.95, "VIOLENCE"},
	{regexp.MustCompile(`(?i)\b(how\s+to\s+)(commit\s+suicide|kill\s+(myself|yourself)|end\s+(my|your)\s+life)\b`), 0.95, "SELF_HARM"},
	{regexp.MustCompile(`(?i)\b(methods|ways)\s+(of|to|for)\s+(committing\s+)?suicide\b`), 0.90, "SELF_HARM"},
	{regexp.MustCompile(`(?i)\b(child|minor|underage|kid)\s+(sexual|porn|nude|naked|explicit)\b`), 0.99, "SEXUAL"},
	{regexp.MustCompile(`(?i)\b(sexual|porn|nude|naked|explicit)\s+(child|minor|underage|kid)\b`), 0.99, "SEXUAL"},
	{regexp.MustCompile(`(?i)\b(how\s+to\s+)(hack|breach|break\s+into)\s+(a\s+)?(bank|government|military)\s+(system|server|database|network)\b`), 0.85, "MISCONDUCT"},
	{regexp.MustCompile(`(?i)\b(synthesize|manufacture|produce|cook)\s+(methamphetamine|fentanyl|heroin|cocaine|meth)\b`), 0.95, "MISCONDUCT"},
}

// PII labels follow the backend's entity types.
var piiPatterns = []pattern{
	{regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`), 0.90, "US_SOCIAL_SECURITY_NUMBER"},
	{regexp.MustCompile(`\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), 0.90, "CREDIT_DEBIT_CARD_NUMBER"},
	{regexp.MustCompile(`\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), 0.90, "CREDIT_DEBIT_CARD_NUMBER"},
	{regexp.MustCompile(`\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`), 0.90, "CREDIT_DEBIT_CARD_NUMBER"},
	{regexp.MustCompile(`\b6011[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), 0.90, "CREDIT_DEBIT_CARD_NUMBER"},
	{regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`), 0.85, "EMAIL"},
	{regexp.MustCompile(`(\+1[-\s]?)?\(?\d{3}\)?[-\s.]?\d{3}[-\s.]?\d{4}\b`), 0.75, "PHONE"},
	{regexp.MustCompile(`\b[A-Z]{2}\d{2}[-\s]?[A-Z0-9]{4}[-\s]?(?:[A-Z0-9]{4}[-\s]?){1,7}[A-Z0-9]{1,4}\b`), 0.90, "INTERNATIONAL_BANK_ACCOUNT_NUMBER"},
}

// Regex filters report under their rule name.
var regexPatterns = []pattern{
	{regexp.MustCompile(`(?i)\b(DROP|DELETE|TRUNCATE|ALTER)\s+(TABLE|DATABASE|INDEX|SCHEMA)\b`), 0.90, "sql_injection"},
	{regexp.MustCompile(`(?i)\bUNION\s+(ALL\s+)?SELECT\b`), 0.90, "sql_injection"},
	{regexp.MustCompile(`(?i)\bOR\s+1\s*=\s*1\b`), 0.90, "sql_injection"},
	{regexp.MustCompile(`(?i)\bxp_cmdshell\b`), 0.90, "sql_injection"},
	{regexp.MustCompile(`[;&|]\s*(cat|curl|wget|nc|ncat|bash|sh|zsh)\b`), 0.90, "command_injection"},
	{regexp.MustCompile(`\|\s*(bash|sh|zsh)`), 0.90, "command_injection"},
}
