package protocol

// Language identifies the document's programming language.
type Language string

const (
	LanguageCPP    Language = "cpp"
	LanguagePython Language = "python"
	LanguageJava   Language = "java"
)

// Languages lists the supported languages in display order.
var Languages = []Language{LanguageCPP, LanguagePython, LanguageJava}

var versions = map[Language]string{
	LanguageCPP:    "10.2.0",
	LanguagePython: "3.10.0",
	LanguageJava:   "15.0.2",
}

var snippets = map[Language]string{
	LanguageCPP:    "\n# include <iostream>\nusing namespace std;\n\nint main() {\n\tcout << \"Hello, World!\";\n\treturn 0;\n}\n",
	LanguagePython: "\ndef greet(name):\n\tprint(\"Hello, \" + name + \"!\")\n\ngreet(\"Everyone\")\n",
	LanguageJava:   "\npublic class HelloWorld {\n\tpublic static void main(String[] args) {\n\t\tSystem.out.println(\"Hello World\");\n\t}\n}\n",
}

func (l Language) IsValid() bool {
	_, ok := versions[l]
	return ok
}

// Version is the runtime version requested from the execution backend.
func (l Language) Version() string {
	return versions[l]
}

// Snippet returns a starter program for the language. It is a local convenience
// for editors that have not joined a session yet and is never sent as an update.
func (l Language) Snippet() string {
	return snippets[l]
}
