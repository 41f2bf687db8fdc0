// Command mosaic breaks a UI design into components and builds them in
// parallel, one isolated git worktree per component.
package main

func main() {
	Execute()
}
