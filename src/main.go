package main

import (
	_ "git.handmade.network/hmn/imghost/src/locals3/cmd"
	_ "git.handmade.network/hmn/imghost/src/migration"
	"git.handmade.network/hmn/imghost/src/website"
)

func main() {
	website.WebsiteCommand.Execute()
}
