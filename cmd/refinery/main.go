// Command refinery runs the generate-evaluate-refine loop over tasks described
// in YAML files.
package main

func main() {
	Execute()
}
