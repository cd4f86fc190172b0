// Command rentalreports runs the film-rental report catalog from the command line or as an HTTP service.
package main

func main() {
	Execute()
}
