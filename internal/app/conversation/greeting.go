package conversation

import "github.com/PabloGalante/clevercompass/internal/domain"

var greetings = map[domain.Subject]string{
	domain.SubjectMath:      "Hi there! I'm your Math tutor. I can help with algebra, calculus, geometry, and more. What would you like to learn about today? You can also upload images of math problems, and I'll help solve them.",
	domain.SubjectPhysics:   "Hello! I'm your Physics tutor. Whether you're studying mechanics, thermodynamics, or quantum physics, I'm here to help. Feel free to upload diagrams or problem images if you need specific help with them.",
	domain.SubjectChemistry: "Welcome! I'm your Chemistry tutor. From atomic structure to organic reactions, I can help you understand chemical concepts. You can upload images of chemical equations or diagrams, and I'll help explain them.",
	domain.SubjectGeneral:   "Hello! I'm your AI learning companion. Select a subject and let's start learning together! You can upload images of problems or diagrams for me to help with.",
}

// Greeting returns the opening assistant text for a subject.
func Greeting(subject domain.Subject) string {
	if g, ok := greetings[subject]; ok {
		return g
	}
	return greetings[domain.SubjectGeneral]
}

func knownSubject(subject domain.Subject) bool {
	_, ok := greetings[subject]
	return ok
}
